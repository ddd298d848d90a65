package signal

import (
	"context"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offer, answer and ice-candidate frames. The sender
// field is always rewritten to the connection's own id.
func (ctl *SignalWSController) handleRelay(
	ctx context.Context,
	id domain.ConnectionID,
	conn *WsSignalConn,
	m *protocol.SignalMessage,
) {
	if m.SenderConnectionID != "" && m.SenderConnectionID != id {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Str("claimed", string(m.SenderConnectionID)).Msg("sender id overwritten")
	}
	if err := ctl.Coord.Relay(ctx, id, m.Envelope(id)); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("relay")
		ctl.sendError(conn, err)
	}
}
