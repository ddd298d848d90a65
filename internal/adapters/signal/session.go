package signal

import (
	"context"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	id domain.ConnectionID,
	conn *WsSignalConn,
	m *protocol.JoinMeetingMessage,
) {
	p, err := ctl.Coord.Join(ctx, id, m.SessionID, m.Identity())
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Str("sid", string(m.SessionID)).Msg("join rejected")
		ctl.sendError(conn, err)
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("sid", string(m.SessionID)).Bool("host", p.IsHost).Msg("join")
}

// handleLeave detaches from the current session; the socket stays open.
func (ctl *SignalWSController) handleLeave(ctx context.Context, id domain.ConnectionID, conn *WsSignalConn) {
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("leave")
	if err := ctl.Coord.Leave(ctx, id); err != nil {
		ctl.sendError(conn, err)
	}
}

func (ctl *SignalWSController) handleEnd(ctx context.Context, id domain.ConnectionID, conn *WsSignalConn) {
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("end meeting")
	if err := ctl.Coord.End(ctx, id); err != nil {
		ctl.sendError(conn, err)
	}
}
