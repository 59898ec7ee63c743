package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Tyrowin/roomchat/internal/session"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
)

const usage = `Commands:
  /join <room> <name>   enter a room
  /leave                leave the current room
  /share <path>         upload a file and share it with the room
  /quit                 disconnect
Anything else is sent to the room.`

func main() {
	if err := run(); err != nil {
		color.Red.Printf("Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	serverURL := flag.String("server", "http://localhost:7777", "relay base URL")
	origin := flag.String("origin", "http://localhost:3000", "Origin header sent to the relay")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s, err := session.Dial(dialCtx, session.Options{
		ServerURL: *serverURL,
		Origin:    *origin,
		Logger:    logs.GetLoggerFromLevel(slog.LevelWarn),
		OnEntry:   printEntry,
	})
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	header := color.New(color.BgBlack, color.FgGreen).Render(" connected as " + s.UserID() + " ")
	fmt.Println(header)
	fmt.Println(usage)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Done():
			color.Red.Println("connection closed by server")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, s, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, s *session.Session, line string) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)

	var err error
	switch fields[0] {
	case "/quit":
		return true
	case "/join":
		if len(fields) < 3 {
			color.Yellow.Println("usage: /join <room> <name>")
			return false
		}
		err = s.Join(fields[1], strings.Join(fields[2:], " "))
		if err == nil {
			color.Green.Printf("joined %s\n", fields[1])
		}
	case "/leave":
		err = s.Leave()
		if err == nil {
			color.Green.Println("left the room")
		}
	case "/share":
		if len(fields) < 2 {
			color.Yellow.Println("usage: /share <path>")
			return false
		}
		err = share(ctx, s, strings.Join(fields[1:], " "))
	default:
		err = s.Send(line)
	}

	if err != nil {
		color.Red.Printf("error: %v\n", err)
	}
	return false
}

func share(ctx context.Context, s *session.Session, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	up, err := s.ShareFile(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}
	color.Green.Printf("uploaded as %s (%d bytes, %s)\n", up.Filename, up.Size, up.ContentType)
	return nil
}

func printEntry(e session.Entry) {
	name := e.Username
	if name == "" {
		name = e.Sender
	}
	switch {
	case e.Sender == session.You:
		color.Cyan.Printf("[%s] %s\n", name, e.Text)
	case e.File != "":
		color.Magenta.Printf("[%s] %s\n", name, e.Text)
	default:
		fmt.Printf("[%s] %s\n", name, e.Text)
	}
}
