package signal

import "github.com/dkeye/Meet/internal/protocol"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, protocol.NewPong())
}
