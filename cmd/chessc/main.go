// Package main provides chessc, an interactive terminal client for chessd.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/chessd/internal/client"
	"github.com/cory-johannsen/chessd/internal/game/rules"
	"github.com/cory-johannsen/chessd/internal/protocol"
)

const usage = `commands:
  move <from> <to> [promotion]   play a move, e.g. "move e2 e4" or "move e7 e8 q"
  chat <message>                 send a chat line to your opponent
  resign                         concede the game
  draw                           offer a draw
  accept | decline               answer a draw offer
  quit                           leave
`

func main() {
	url := flag.String("url", "ws://localhost:8000/ws", "server WebSocket URL")
	name := flag.String("name", "", "player name (required)")
	color := flag.String("color", "", "preferred color: white or black")
	gameID := flag.String("game", "", "game id to resume")
	flag.Parse()

	if *name == "" {
		log.Fatal("-name is required")
	}

	logger, err := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	c := client.New(client.Config{
		URL:            *url,
		PlayerName:     *name,
		PreferredColor: *color,
		GameID:         *gameID,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "connection error: %v\n", err)
		}
	}()
	go printMessages(c)

	fmt.Print(usage)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if !dispatch(c, scanner.Text()) {
			break
		}
	}

	c.Close()
	<-done
}

// dispatch executes one input line. It returns false when the user quits.
func dispatch(c *client.Client, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	var err error
	switch fields[0] {
	case "move":
		if len(fields) < 3 {
			fmt.Println("usage: move <from> <to> [promotion]")
			return true
		}
		promotion := ""
		if len(fields) > 3 {
			promotion = fields[3]
		}
		err = c.Move(fields[1], fields[2], promotion)
	case "chat":
		err = c.Chat(strings.TrimSpace(strings.TrimPrefix(line, "chat")))
	case "resign":
		err = c.Resign()
	case "draw":
		err = c.OfferDraw()
	case "accept":
		err = c.RespondDraw(true)
	case "decline":
		err = c.RespondDraw(false)
	case "quit", "exit":
		return false
	case "help":
		fmt.Print(usage)
	default:
		fmt.Printf("unknown command %q (try: help)\n", fields[0])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
	}
	return true
}

// printMessages renders server messages until the channel closes.
func printMessages(c *client.Client) {
	for env := range c.Messages() {
		switch env.Type {
		case protocol.TypeConnection:
			var status protocol.ConnectionStatus
			if protocol.DecodeData(env, &status) == nil {
				if status.Resumed {
					fmt.Printf("\n== resumed game %s as %s ==\n", status.GameID, status.Color)
				} else {
					fmt.Printf("\n== joined game %s as %s (%s) ==\n", status.GameID, status.Color, status.Status)
				}
			}
		case protocol.TypeGameState:
			var state protocol.GameState
			if protocol.DecodeData(env, &state) == nil {
				printState(state)
			}
		case protocol.TypeMoveResponse:
			var resp protocol.MoveResponse
			if protocol.DecodeData(env, &resp) == nil && !resp.Accepted {
				fmt.Printf("move %s-%s rejected: %s\n", resp.From, resp.To, resp.Reason)
			}
		case protocol.TypeChat:
			var chat protocol.ChatBroadcast
			if protocol.DecodeData(env, &chat) == nil {
				fmt.Printf("[%s] %s\n", chat.From, chat.Message)
			}
		case protocol.TypeDrawOffered:
			var offer protocol.DrawOffered
			if protocol.DecodeData(env, &offer) == nil {
				fmt.Printf("%s offers a draw (accept/decline)\n", offer.From)
			}
		case protocol.TypeError:
			var em protocol.ErrorMessage
			if protocol.DecodeData(env, &em) == nil {
				fmt.Fprintf(os.Stderr, "server error [%s]: %s\n", em.Type, em.Message)
			}
		}
	}
}

func printState(state protocol.GameState) {
	fmt.Println()
	if pos, err := rules.FromFEN(state.Board); err == nil {
		fmt.Print(renderBoard(pos))
	}
	switch state.Status {
	case "ended":
		if state.Winner != "" {
			fmt.Printf("game over: %s wins (%s)\n", state.Winner, state.EndReason)
		} else {
			fmt.Printf("game over: draw (%s)\n", state.EndReason)
		}
	case "paused":
		fmt.Println("game paused: opponent disconnected")
	default:
		fmt.Printf("move %d, %s to play\n", state.MoveSeq, state.CurrentPlayer)
	}
}

// renderBoard draws the position from white's perspective.
func renderBoard(pos *rules.Position) string {
	var b strings.Builder
	for rank := 7; rank >= 0; rank-- {
		fmt.Fprintf(&b, "%d ", rank+1)
		for file := 0; file < 8; file++ {
			sq := rules.Square(rank*8 + file)
			piece, ok := pos.PieceAt(sq)
			if !ok {
				b.WriteString(". ")
				continue
			}
			glyph := string(rune(piece.Type))
			if piece.Color == rules.Black {
				glyph = strings.ToLower(glyph)
			}
			b.WriteString(glyph + " ")
		}
		b.WriteByte('\n')
	}
	b.WriteString("  a b c d e f g h\n")
	return b.String()
}
