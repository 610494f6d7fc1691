package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/confera/confera/internal/client"
	"github.com/confera/confera/internal/peer"
	"github.com/confera/confera/internal/room"
	"github.com/confera/confera/internal/signaling"
	"github.com/confera/confera/internal/ui"
)

const (
	joinTimeout      = 15 * time.Second
	negotiateTimeout = 20 * time.Second
)

var flagName string

var joinCmd = &cobra.Command{
	Use:     "join <room-id|join-link>",
	Aliases: []string{"j"},
	Short:   "Join a room to chat and connect with its participants",
	Long: `Join a room over the relay. Lines typed on stdin are sent as chat messages.

Commands while joined:
  /emoji <emoji>   send an emoji reaction
  /peers           show who is in the room
  /quit            leave the room

Examples:
  confera join 1234-5678-9012 --name Alice
  confera join 1234-5678-9012 --secure --password hunter2
  confera join 3f9a...c1 --name Bob`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig("")
		if err != nil {
			return err
		}
		target, err := resolveTarget(cmd.Context(), client.NewAPI(cfg), args[0], flagSecure, flagPassword)
		if err != nil {
			return err
		}
		return joinRoom(cmd.Context(), cfg, target, os.Stdin)
	},
}

type joinTarget struct {
	RoomID   string
	Private  bool
	Password string
}

// resolveTarget accepts a room id, or anything else as a join link.
func resolveTarget(ctx context.Context, api *client.API, input string, secure bool, password string) (joinTarget, error) {
	input = strings.TrimSpace(input)
	if roomIDPattern.MatchString(input) {
		if secure && password == "" {
			return joinTarget{}, errors.New("private rooms need --password")
		}
		return joinTarget{RoomID: input, Private: secure, Password: password}, nil
	}

	resp, err := api.JoinWithLink(ctx, input)
	if err != nil {
		return joinTarget{}, fmt.Errorf("resolve join link: %w", err)
	}
	if resp.IsPrivateRoom && password == "" {
		return joinTarget{}, errors.New("this link points to a private room; pass --password")
	}
	return joinTarget{RoomID: resp.RoomID, Private: resp.IsPrivateRoom, Password: password}, nil
}

// roomSession is one joined connection: the relay, its event handler and
// the WebRTC negotiations with the other members.
type roomSession struct {
	log     *slog.Logger
	relay   *client.Relay
	events  *client.Handler
	peers   *peer.Negotiator
	names   map[string]string
	members []room.Participant
}

func joinRoom(ctx context.Context, cfg *client.Config, target joinTarget, stdin io.Reader) error {
	log := slog.Default()
	relay, err := client.NewRelay(log, cfg)
	if err != nil {
		return err
	}

	err = ui.RunWithSpinner("Connecting to server...", func() error {
		dialCtx, cancel := context.WithTimeout(ctx, joinTimeout)
		defer cancel()
		return relay.Connect(dialCtx)
	})
	if err != nil {
		return err
	}
	defer relay.Close()

	events := client.NewHandler(log, relay.Incoming())
	go events.Start()

	s := &roomSession{
		log:    log,
		relay:  relay,
		events: events,
		names:  make(map[string]string),
	}
	s.peers = peer.NewNegotiator(log, cfg.GetSTUNServers(), s.onPeerState)
	defer s.peers.Close()

	if err := s.join(target); err != nil {
		return err
	}

	lines := make(chan string)
	go readLines(stdin, lines)
	return s.loop(ctx, lines)
}

func (s *roomSession) join(target joinTarget) error {
	err := s.relay.Send(signaling.EventJoinRoom, signaling.JoinRoomPayload{
		RoomID:     target.RoomID,
		Username:   flagName,
		Password:   target.Password,
		SecureRoom: target.Private,
	})
	if err != nil {
		return err
	}

	select {
	case peers := <-s.events.Peers:
		s.members = peers
		for _, p := range peers {
			s.names[p.ConnectionID] = p.DisplayName
		}
	case e := <-s.events.Errors:
		return e
	case <-s.events.Done:
		return client.ErrRelayClosed
	case <-time.After(joinTimeout):
		return errors.New("timed out joining room")
	}

	ui.PrintSuccessf("Joined room %s", target.RoomID)
	fmt.Println(ui.PeersView(s.members))

	// The newcomer calls everyone already in the room.
	for _, p := range s.members {
		go s.offer(p.ConnectionID)
	}
	return nil
}

func (s *roomSession) loop(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.events.Done:
			return client.ErrRelayClosed

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handleInput(line); quit {
				return nil
			}

		case p := <-s.events.PeerJoined:
			s.names[p.PeerID] = p.PeerName
			s.members = append(s.members, room.Participant{ConnectionID: p.PeerID, DisplayName: p.PeerName})
			fmt.Println(ui.EventLine(ui.IconPeer, p.PeerName+" joined"))

		case p := <-s.events.PeerLeft:
			delete(s.names, p.PeerID)
			s.peers.Remove(p.PeerID)
			fmt.Println(ui.EventLine(ui.IconLeave, p.PeerName+" left"))

		case ids := <-s.events.PeerIDs:
			s.members = s.keepMembers(ids)

		case m := <-s.events.Chat:
			fmt.Println(ui.ChatLine(m.Time, m.Username, m.Text))

		case e := <-s.events.Emoji:
			fmt.Printf("%s %s\n", ui.NameStyle.Render(e.Username), e.Emoji)

		case o := <-s.events.Offers:
			go s.answer(o)

		case a := <-s.events.Answers:
			desc, err := peer.DecodeSignal(a.Signal)
			if err == nil {
				err = s.peers.Accept(a.CallerID, desc)
			}
			if err != nil {
				s.log.Warn("Failed to apply answer", "peer", a.CallerID, "err", err)
			}

		case c := <-s.events.RoomClosed:
			ui.PrintWarning(fmt.Sprintf("Room %s was closed by an administrator", c.RoomID))
			return nil

		case e := <-s.events.Errors:
			ui.PrintWarning(e.Message)
		}
	}
}

// handleInput sends one stdin line and reports whether to leave.
func (s *roomSession) handleInput(line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/peers":
		fmt.Println(ui.PeersView(s.members))
		return false
	case strings.HasPrefix(line, "/emoji "):
		s.send(signaling.EventEmoji, signaling.EmojiPayload{Emoji: strings.TrimSpace(strings.TrimPrefix(line, "/emoji "))})
		return false
	}
	s.send(signaling.EventChatMessage, signaling.ChatPayload{Text: line})
	return false
}

func (s *roomSession) keepMembers(ids []string) []room.Participant {
	out := make([]room.Participant, 0, len(ids))
	for _, id := range ids {
		if name, ok := s.names[id]; ok {
			out = append(out, room.Participant{ConnectionID: id, DisplayName: name})
		}
	}
	return out
}

func (s *roomSession) send(eventType string, payload any) {
	if err := s.relay.Send(eventType, payload); err != nil {
		s.log.Debug("Send failed", "type", eventType, "err", err)
	}
}

func (s *roomSession) offer(peerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), negotiateTimeout)
	defer cancel()

	desc, err := s.peers.Offer(ctx, peerID)
	if err != nil {
		s.log.Warn("Failed to create offer", "peer", peerID, "err", err)
		return
	}
	s.send(signaling.EventOffer, signaling.OfferPayload{UserToSignal: peerID, Signal: peer.EncodeSignal(desc), Username: flagName})
}

func (s *roomSession) answer(o signaling.UserConnectedPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), negotiateTimeout)
	defer cancel()

	offer, err := peer.DecodeSignal(o.Signal)
	if err != nil {
		s.log.Warn("Ignoring offer", "peer", o.CallerID, "err", err)
		return
	}
	desc, err := s.peers.Answer(ctx, o.CallerID, offer)
	if err != nil {
		s.log.Warn("Failed to answer offer", "peer", o.CallerID, "err", err)
		return
	}
	s.send(signaling.EventAccept, signaling.AcceptPayload{CallerID: o.CallerID, Signal: peer.EncodeSignal(desc)})
}

func (s *roomSession) onPeerState(peerID string, state pion.PeerConnectionState) {
	if state == pion.PeerConnectionStateConnected {
		fmt.Println(ui.EventLine(ui.IconConnect, "peer-to-peer link established with "+peerID))
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func init() {
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name shown to others (default Anonymous)")
	joinCmd.Flags().StringVarP(&flagPassword, "password", "p", "", "Room password (private rooms)")
	joinCmd.Flags().BoolVar(&flagSecure, "secure", false, "Join the private room namespace")
	rootCmd.AddCommand(joinCmd)
}
