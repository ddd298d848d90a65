package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

func (ctl *SignalWSController) handleChat(
	ctx context.Context,
	id domain.ConnectionID,
	conn *WsSignalConn,
	m *protocol.ChatMessage,
) {
	if !ctl.chat.Allow(id) {
		ctl.sendJSON(conn, protocol.NewErrorMessage(protocol.CodeRateLimited,
			fmt.Sprintf("at most %d messages per %s", ctl.chat.limit, ctl.chat.interval)))
		return
	}
	if err := ctl.Coord.Chat(ctx, id, m.Message); err != nil {
		ctl.sendError(conn, err)
	}
}
