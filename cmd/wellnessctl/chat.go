package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"gwi.com/wellness-chat/internal/core"
	"gwi.com/wellness-chat/internal/store"
)

const chatHelp = `Commands:
  /new          archive this conversation and start over
  /sessions     list archived sessions
  /load N       continue archived session N
  /delete N     delete archived session N
  /tone [N]     show or pick the guidance tone
  /steps        toggle step-by-step mode
  /attach PATH  attach an image to the next message
  /help         show this help
  /quit         leave`

// runChat reads lines from in until EOF or /quit.
func runChat(ctx context.Context, ws *core.Workspace, user *store.User, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Hi %s. How are you feeling today? (/help for commands)\n", user.Name)
	if snap := ws.Snapshot(); len(snap.Messages) > 0 {
		fmt.Fprintf(out, "(continuing a conversation of %d messages)\n", len(snap.Messages))
		if snap.State == core.StateAwaitingRole {
			printRoles(out)
		}
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if strings.HasPrefix(line, "/") {
			runCommand(ctx, ws, line, out)
			continue
		}
		send(ctx, ws, line, out)
	}
}

func send(ctx context.Context, ws *core.Workspace, line string, out io.Writer) {
	var (
		reply *store.ChatMessage
		err   error
	)
	// A bare number answers the role prompt with the listed role.
	if n, ok := index(line, len(core.Roles)); ok && ws.State() == core.StateAwaitingRole {
		reply, err = ws.SelectRole(ctx, core.Roles[n])
	} else {
		reply, err = ws.Send(ctx, line)
	}
	if err != nil {
		fmt.Fprintf(out, "! %v\n", err)
		return
	}
	printMessage(out, reply)
	if reply.IsRoleSelectionPrompt {
		printRoles(out)
	}
}

func runCommand(ctx context.Context, ws *core.Workspace, line string, out io.Writer) {
	fields := strings.Fields(line)
	cmd, arg := fields[0], strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch cmd {
	case "/help":
		fmt.Fprintln(out, chatHelp)
	case "/new":
		session, err := ws.Sessions.StartNewSession(ctx)
		switch {
		case err != nil:
			fmt.Fprintf(out, "! %v\n", err)
		case session == nil:
			fmt.Fprintln(out, "Started fresh.")
		default:
			fmt.Fprintf(out, "Saved %q. Started fresh.\n", session.Preview)
		}
	case "/sessions":
		printSessions(out, ws.Sessions.ListSessions())
	case "/load", "/delete":
		sessions := ws.Sessions.ListSessions()
		n, ok := index(arg, len(sessions))
		if !ok {
			fmt.Fprintf(out, "! pick a session between 1 and %d\n", len(sessions))
			return
		}
		if cmd == "/delete" {
			if err := ws.Sessions.DeleteSession(ctx, sessions[n].ID); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				return
			}
			fmt.Fprintf(out, "Deleted %q.\n", sessions[n].Preview)
			return
		}
		messages, err := ws.Sessions.LoadSession(ctx, sessions[n].ID)
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			return
		}
		for i := range messages {
			printMessage(out, &messages[i])
		}
	case "/tone":
		n, ok := index(arg, len(store.Tones))
		if !ok {
			current := ws.Snapshot().Preferences.Tone
			for i, t := range store.Tones {
				marker := " "
				if t == current {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %d. %s\n", marker, i+1, t)
			}
			return
		}
		if err := ws.SetTone(ctx, store.Tones[n]); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			return
		}
		fmt.Fprintf(out, "Tone set to %s.\n", store.Tones[n])
	case "/steps":
		on := !ws.Snapshot().Preferences.StepMode
		if err := ws.SetStepMode(ctx, on); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			return
		}
		if on {
			fmt.Fprintln(out, "Step-by-step mode on.")
		} else {
			fmt.Fprintln(out, "Step-by-step mode off.")
		}
	case "/attach":
		img, err := readImage(arg)
		if err == nil {
			err = ws.AttachImage(img)
		}
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			return
		}
		fmt.Fprintf(out, "Attached %s (%d bytes).\n", img.MIMEType, len(img.Data))
	default:
		fmt.Fprintf(out, "! unknown command %s (try /help)\n", cmd)
	}
}

// index parses a 1-based choice into a 0-based index below n.
func index(s string, n int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

func readImage(path string) (*store.Image, error) {
	if path == "" {
		return nil, errors.New("usage: /attach PATH")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%s is not an image (%s)", path, mimeType)
	}
	return &store.Image{MIMEType: mimeType, Data: data}, nil
}

func printRoles(out io.Writer) {
	for i, r := range core.Roles {
		fmt.Fprintf(out, "  %d. %s\n", i+1, r)
	}
}

func printSessions(out io.Writer, sessions []store.ChatSession) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No saved sessions.")
		return
	}
	for i, s := range sessions {
		fmt.Fprintf(out, "%2d. %s  %s (%d messages)\n", i+1, s.Timestamp.Format("Jan 2 15:04"), s.Preview, len(s.Messages))
	}
}

func printMessage(out io.Writer, msg *store.ChatMessage) {
	if msg.Role == store.RoleUser {
		fmt.Fprintf(out, "you: %s\n", msg.Text)
		return
	}
	fmt.Fprintf(out, "guide: %s\n", msg.Text)

	resp := msg.Data
	if resp == nil {
		return
	}
	fmt.Fprintf(out, "  [%s, confidence %s]\n", resp.Condition, orDash(resp.Confidence))
	if resp.SafetyMessage != "" {
		fmt.Fprintf(out, "  !! %s\n", resp.SafetyMessage)
	}
	printList(out, orDefault(resp.ImmediateActionsTitle, "Right now"), resp.ImmediateActions)
	printList(out, orDefault(resp.SmallComfortsTitle, "Small comforts"), resp.SmallComforts)
	printList(out, "Step by step", resp.StepByStep)
	if v := resp.YouTubeResource; v != nil {
		fmt.Fprintf(out, "  Watch: %s\n    %s\n", v.Title, v.URL)
	}
	if resp.VisualizationImage != nil {
		fmt.Fprintf(out, "  [illustration: %s]\n", orDefault(resp.VisualizationTitle, "untitled"))
	}
	if resp.GentleReminder != "" {
		fmt.Fprintf(out, "  %s\n", resp.GentleReminder)
	}
}

func printList(out io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "  %s:\n", title)
	for _, item := range items {
		fmt.Fprintf(out, "   - %s\n", item)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDash(s string) string { return orDefault(s, "-") }
