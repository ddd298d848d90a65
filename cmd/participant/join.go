package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Meet/internal/adapters/rtc"
	"github.com/dkeye/Meet/internal/client"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/negotiation"
	"github.com/dkeye/Meet/internal/protocol"
)

var (
	flagName  string
	flagEmail string
	flagHost  bool
)

var joinCmd = &cobra.Command{
	Use:   "join <session-id>",
	Short: "Join a session and chat from stdin",
	Long: `Join a session. Lines typed on stdin are sent as chat.

Commands:
  /peers        list peer connections and their state
  /p2p <text>   send text over the peer data channels
  /leave        leave the session and exit
  /end          end the session (host only)

Examples:
  participant join standup --name Ada --email ada@example.com --host
  participant join standup --name Bob --server ws://meet.local:8080/api/ws`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		who := domain.Identity{Name: flagName, Email: flagEmail, IsHost: flagHost}
		return runJoin(cmd.Context(), domain.SessionID(args[0]), who, os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagName, "name", "", "display name")
	joinCmd.Flags().StringVar(&flagEmail, "email", "", "email, matched against the meeting host")
	joinCmd.Flags().BoolVar(&flagHost, "host", false, "claim the host role")
	_ = joinCmd.MarkFlagRequired("name")
}

// participant is the terminal view of one joined session.
type participant struct {
	sid domain.SessionID
	out io.Writer
	cl  *client.Client
	mgr *negotiation.Manager

	mu    sync.Mutex
	names map[domain.ConnectionID]string
	peers map[domain.ConnectionID]*rtc.WebRTCConnection
}

func runJoin(ctx context.Context, sid domain.SessionID, who domain.Identity, in io.Reader, out io.Writer) error {
	cl, err := client.Dial(ctx, flagServer)
	if err != nil {
		return err
	}
	p := &participant{
		sid:   sid,
		out:   out,
		cl:    cl,
		names: make(map[domain.ConnectionID]string),
		peers: make(map[domain.ConnectionID]*rtc.WebRTCConnection),
	}
	p.mgr = negotiation.NewManager(negotiation.ManagerConfig{
		NewPeer:      rtc.Factory(rtc.WebRTCConfig(flagStun), p.configurePeer),
		Signaler:     cl,
		OfferTimeout: offerTimeout,
		OnEnded: func(reason string) {
			fmt.Fprintf(out, "* meeting ended (%s)\n", reason)
			cl.Close()
		},
	})
	defer p.mgr.Close()

	if err := cl.Join(sid, who); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cl.Run(gctx) })
	g.Go(func() error {
		for ev := range cl.Events() {
			p.mgr.HandleEvent(ev)
			p.render(ev)
		}
		return nil
	})

	lines := make(chan string)
	go readLines(in, lines)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				cl.Close()
				return nil
			case line, ok := <-lines:
				if !ok {
					// stdin closed: leave politely.
					_ = cl.Leave(sid)
					cl.Close()
					return nil
				}
				if done := p.command(line); done {
					cl.Close()
					return nil
				}
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func readLines(in io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

// command handles one stdin line and reports whether the session is over.
func (p *participant) command(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	var err error
	switch {
	case line == "/leave":
		err = p.cl.Leave(p.sid)
		p.mgr.Close()
		if err == nil {
			fmt.Fprintln(p.out, "* left the meeting")
		}
		return true
	case line == "/end":
		err = p.cl.End(p.sid)
	case line == "/peers":
		p.printPeers()
	case strings.HasPrefix(line, "/p2p "):
		p.broadcastP2P(strings.TrimPrefix(line, "/p2p "))
	case strings.HasPrefix(line, "/"):
		fmt.Fprintf(p.out, "* unknown command %q\n", line)
	default:
		err = p.cl.Chat(p.sid, line)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "participant").Msg("send")
		return errors.Is(err, client.ErrClosed)
	}
	return false
}

func (p *participant) configurePeer(c *rtc.WebRTCConnection) {
	p.mu.Lock()
	p.peers[c.Remote()] = c
	p.mu.Unlock()

	c.OnClose(p.forgetPeer)
	c.OnOpen(func(remote domain.ConnectionID) {
		fmt.Fprintf(p.out, "* direct channel to %s open\n", p.name(remote))
	})
	c.OnMessage(func(remote domain.ConnectionID, text string) {
		fmt.Fprintf(p.out, "[p2p %s] %s\n", p.name(remote), text)
	})
}

// forgetPeer drops c unless a newer connection to the same remote replaced it.
func (p *participant) forgetPeer(c *rtc.WebRTCConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.peers[c.Remote()]; ok && cur == c {
		delete(p.peers, c.Remote())
	}
}

func (p *participant) broadcastP2P(text string) {
	p.mu.Lock()
	conns := make([]*rtc.WebRTCConnection, 0, len(p.peers))
	for _, c := range p.peers {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	sent := 0
	for _, c := range conns {
		if err := c.SendText(text); err != nil {
			log.Debug().Err(err).Str("module", "participant").Msg("p2p send")
			continue
		}
		sent++
	}
	fmt.Fprintf(p.out, "* sent to %d peer(s)\n", sent)
}

func (p *participant) printPeers() {
	states := p.mgr.Peers()
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		fmt.Fprintln(p.out, "* no peers")
		return
	}
	for _, id := range ids {
		cid := domain.ConnectionID(id)
		fmt.Fprintf(p.out, "* %s (%s): %s\n", p.name(cid), id, states[cid])
	}
}

func (p *participant) name(id domain.ConnectionID) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.names[id]; ok {
		return n
	}
	return string(id)
}

func (p *participant) setRoster(roster []domain.Participant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range roster {
		p.names[m.ConnectionID] = m.Name
	}
}

func (p *participant) render(ev any) {
	switch e := ev.(type) {
	case *protocol.MeetingJoinedMessage:
		p.setRoster(e.Participants)
		role := "participant"
		if e.IsHost {
			role = "host"
		}
		fmt.Fprintf(p.out, "* joined %s as %s (%s), %d in the room\n", e.SessionID, role, e.ConnectionID, len(e.Participants))
		if e.ChatTruncated {
			fmt.Fprintf(p.out, "* earlier chat omitted, see /api/sessions/%s/history\n", e.SessionID)
		}
		for _, m := range e.Chat {
			p.renderChat(&m)
		}
	case *protocol.ParticipantsUpdateMessage:
		p.setRoster(e.Participants)
	case *protocol.NotificationMessage:
		fmt.Fprintf(p.out, "* %s\n", e.Message)
	case *protocol.ChatMessage:
		p.renderChat(e)
	case *protocol.ErrorMessage:
		fmt.Fprintf(p.out, "! %s: %s\n", e.Code, e.Message)
	}
}

func (p *participant) renderChat(m *protocol.ChatMessage) {
	at := ""
	if m.Timestamp != nil {
		at = m.Timestamp.Local().Format("15:04")
	}
	fmt.Fprintf(p.out, "[%s] %s: %s\n", at, m.Sender, m.Message)
}
