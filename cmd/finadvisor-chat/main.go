// Command finadvisor-chat is a terminal client for the finadvisor API.
//
//	finadvisor-chat -user alice "How did revenue change from March to April?"
//	finadvisor-chat -user alice            # interactive
//	finadvisor-chat -user alice -history 10
//	finadvisor-chat -user alice -clear
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/PabloGalante/finadvisor/internal/client"
	"github.com/PabloGalante/finadvisor/internal/domain"
)

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)

func main() {
	server := flag.String("server", envOr("FINADVISOR_SERVER", "http://localhost:8080"), "API base URL")
	user := flag.String("user", os.Getenv("FINADVISOR_USER"), "user id (random when empty)")
	historyN := flag.Int("history", 0, "print the last N messages and exit")
	clearHistory := flag.Bool("clear", false, "clear conversation history and exit")
	flag.Parse()

	if *user == "" {
		*user = uuid.NewString()
		fmt.Fprintln(os.Stderr, statusStyle.Render("user id: "+*user))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*server, *user)
	r := newRenderer()

	var err error
	switch {
	case *clearHistory:
		if err = c.ClearHistory(ctx); err == nil {
			fmt.Println(labelStyle.Render("History cleared."))
		}
	case *historyN > 0:
		err = printHistory(ctx, c, r, *historyN)
	case flag.NArg() > 0:
		err = turn(ctx, c, r, client.NewView(nil), strings.Join(flag.Args(), " "))
	default:
		err = interactive(ctx, c, r, os.Stdin)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func interactive(ctx context.Context, c *client.Client, r *glamour.TermRenderer, in io.Reader) error {
	msgs, err := c.Messages(ctx, 0)
	if err != nil {
		return err
	}
	view := client.NewView(msgs)
	for _, m := range msgs {
		printEntry(r, client.Entry{Role: m.Role, Content: m.Content})
	}

	sc := bufio.NewScanner(in)
	for {
		fmt.Print(userStyle.Render("> "))
		if !sc.Scan() {
			fmt.Println()
			return sc.Err()
		}
		text := strings.TrimSpace(sc.Text())
		switch text {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		if err := turn(ctx, c, r, view, text); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		}
	}
}

// turn sends one message and redraws the partial status line until the answer lands.
func turn(ctx context.Context, c *client.Client, r *glamour.TermRenderer, view *client.View, text string) error {
	view.AddUser(text)

	_, err := c.Chat(ctx, text, func(ev domain.Event) {
		view.Apply(ev)
		clearLine()
		if s := view.Status(); s != "" {
			fmt.Print(statusStyle.Render(s))
		}
	})
	clearLine()
	if err != nil {
		view.Abort(err.Error())
		return err
	}

	if view.Err != "" {
		fmt.Println(errorStyle.Render(view.Err))
		return nil
	}
	printEntry(r, view.Entries[len(view.Entries)-1])
	return nil
}

func printHistory(ctx context.Context, c *client.Client, r *glamour.TermRenderer, n int) error {
	msgs, err := c.Messages(ctx, n)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println(statusStyle.Render("No messages yet."))
		return nil
	}
	for _, m := range msgs {
		fmt.Println(statusStyle.Render(m.Timestamp.Local().Format("2006-01-02 15:04:05")))
		printEntry(r, client.Entry{Role: m.Role, Content: m.Content})
	}
	return nil
}

func printEntry(r *glamour.TermRenderer, e client.Entry) {
	if e.Role == domain.RoleUser {
		fmt.Println(userStyle.Render("you: ") + e.Content)
		return
	}
	fmt.Println(labelStyle.Render("advisor:"))
	fmt.Println(renderMarkdown(r, e.Content))
}

func newRenderer() *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return nil
	}
	return r
}

func renderMarkdown(r *glamour.TermRenderer, content string) string {
	if r == nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

func clearLine() {
	fmt.Print("\r\033[K")
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
