package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/turingroom/internal/chat"
	"github.com/kiliankoe/turingroom/internal/config"
	"github.com/kiliankoe/turingroom/internal/conn"
	"github.com/kiliankoe/turingroom/internal/lookup"
	"github.com/kiliankoe/turingroom/internal/round"
	"github.com/kiliankoe/turingroom/internal/session"
)

const version = "v0.3.0-dev"

const usage = `Commands:
  <text>    send a chat message when it is your turn
  /ai       guess that your partner is the AI
  /human    guess that your partner is a human
  /history  show your past guesses
  /ok       dismiss a connection alert
  /quit     leave the room
`

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		serverFlag  = flag.String("server", "", "Coordinator URL (overrides TURING_SERVER_URL)")
		roomFlag    = flag.Int("room", 0, "Room id")
		codeFlag    = flag.Int("code", 0, "4-digit room code")
		nameFlag    = flag.String("name", "", "Join as guest with this display name")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`Turing Room client - chat, then guess: human or AI?

Usage: %s [--room ID | --code CODE] [--name NAME]

Environment Variables:
  TURING_SERVER_URL     Coordinator URL (default: http://localhost:8080)
  TURING_TOKEN          Bearer token of a registered student
  TURING_GUEST_ID       Guest id from an earlier join
  TURING_GUEST_NAME     Guest display name
  TURING_DIAL_TIMEOUT   WebSocket dial timeout (default: 10s)
  TURING_WRITE_TIMEOUT  WebSocket write timeout (default: 5s)
  LOG_LEVEL             zerolog level (default: info)

%s`, os.Args[0], usage)
		return
	}
	if *showVersion {
		fmt.Printf("Turing Room client %s\n", version)
		return
	}

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.ClientFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(config.Level(cfg.LogLevel))
	if *serverFlag != "" {
		cfg.ServerURL = *serverFlag
	}
	if *nameFlag != "" {
		cfg.GuestName = *nameFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	lc := lookup.New(cfg.ServerURL)
	req := session.JoinRequest{RoomID: *roomFlag, RoomCode: *codeFlag, Token: cfg.Token, GuestID: cfg.GuestID, GuestName: cfg.GuestName}
	if req.Token == "" && req.GuestID == "" && req.GuestName != "" && req.RoomCode != 0 {
		ticket, err := lc.JoinAsGuest(ctx, req.RoomCode, req.GuestName)
		if err != nil {
			log.Fatal().Err(err).Int("code", req.RoomCode).Msg("guest join failed")
		}
		req.GuestID = ticket.StudentID
		fmt.Printf("joined as guest %s (set TURING_GUEST_ID to rejoin)\n", ticket.StudentID)
	}

	v := &view{}
	mgr := conn.NewManager(conn.Options{DialTimeout: cfg.DialTimeout, WriteTimeout: cfg.WriteTimeout})
	s, err := session.Join(ctx, session.Deps{
		Rooms:    lc,
		Accounts: lc,
		Dialer:   mgr,
		Endpoint: lc.WebSocketURL,
	}, req, session.WithOnChange(v.render))
	if err != nil {
		log.Fatal().Err(err).Msg("could not join room")
	}
	defer s.Leave()

	fmt.Print(usage)
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handle(s, line); quit {
				return
			}
		}
	}
}

func handle(s *session.Session, line string) bool {
	cmd := strings.TrimSpace(line)
	switch cmd {
	case "":
		return false
	case "/quit":
		return true
	case "/ai", "/human":
		if !s.SubmitGuess(cmd == "/ai") {
			fmt.Println("! guessing is only possible in the guess phase")
		}
	case "/ok":
		s.DismissAlert()
	case "/history":
		for _, r := range s.Snapshot().History {
			fmt.Printf("  round %d: guessed %s, %s\n", r.Round, r.Guessed, verdictText(r.IsCorrect))
		}
	default:
		s.SetDraft(line)
		if err := s.Send(line); err != nil {
			fmt.Printf("! not sent: %v\n", err)
		}
	}
	return false
}

// view prints what changed between two snapshots.
type view struct {
	mu      sync.Mutex
	printed int
	phase   round.Phase
	round   int
	status  conn.Status
	members int
	hasTurn bool
}

func (v *view) render(snap session.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if snap.Status != v.status {
		v.status = snap.Status
		fmt.Printf("* %s\n", snap.Status)
		if snap.Alert {
			fmt.Printf("! connection lost: %s (rejoin to continue, /ok to dismiss)\n", snap.LastError)
		}
	}
	if len(snap.Members) != v.members {
		v.members = len(snap.Members)
		names := make([]string, 0, len(snap.Members))
		for _, m := range snap.Members {
			names = append(names, m.Username)
		}
		fmt.Printf("* in room %q: %s\n", snap.Room.Name, strings.Join(names, ", "))
	}
	if snap.Round != v.round {
		v.round = snap.Round
		v.printed = 0
		fmt.Printf("* round %d started\n", snap.Round)
	}
	if snap.Phase != v.phase {
		v.phase = snap.Phase
		switch snap.Phase {
		case round.PhaseGuessPhase:
			fmt.Println("* time is up: /ai or /human?")
		case round.PhaseResult:
			fmt.Printf("* your guess was %s\n", snap.Verdict)
		}
	}
	for _, m := range snap.Messages[min(v.printed, len(snap.Messages)):] {
		who := "you"
		if m.Speaker == chat.SpeakerCounterpart {
			who = "partner"
		}
		fmt.Printf("%s: %s\n", who, m.Text)
	}
	v.printed = len(snap.Messages)
	if snap.HasTurn != v.hasTurn {
		v.hasTurn = snap.HasTurn
		if snap.HasTurn && snap.Phase == round.PhaseStarted {
			fmt.Println("* your turn")
		}
	}
}

func verdictText(ok bool) string {
	if ok {
		return "correct"
	}
	return "wrong"
}
