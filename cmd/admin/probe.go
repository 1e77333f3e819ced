package main

import (
	"context"
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/models"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const probeWait = 5 * time.Second

// runProbe exercises a live server end to end: it connects as a throwaway
// user, asks for test access, joins the room, posts one message and prints
// every event until its own message comes back.
func runProbe(ctx context.Context, resolver *auth.Resolver, serverURL string, kind models.RoomKind, scopeID, message string, out io.Writer) error {
	userID := "probe-" + uuid.NewString()
	token, err := resolver.Issue(userID, auth.RoleStudent, time.Hour)
	if err != nil {
		return err
	}

	wsURL, err := socketURL(serverURL, token)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, probeWait)
	defer cancel()
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (HTTP %d)", serverURL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", serverURL, err)
	}
	defer conn.Close()
	fmt.Fprintf(out, "connected as %s\n", userID)

	joinEvent, postEvent := models.EventJoinCourseRoom, models.EventCourseChatMessage
	if kind == models.RoomKindCohort {
		joinEvent, postEvent = models.EventJoinCohortRoom, models.EventCohortChatMessage
	}

	steps := []struct {
		send map[string]any
		want string
	}{
		{map[string]any{"event": models.EventRequestTestAccess}, models.EventTestAccessGranted},
		{map[string]any{"event": joinEvent, "data": scopeID}, models.EventMembershipChange},
		{map[string]any{"event": postEvent, "data": models.ChatMessagePayload{RoomID: scopeID, Content: message}}, models.MessageEventName(kind)},
	}

	for _, step := range steps {
		if err := conn.WriteJSON(step.send); err != nil {
			return fmt.Errorf("send %s: %w", step.send["event"], err)
		}
		if err := awaitEvent(conn, step.want, out); err != nil {
			return err
		}
	}
	fmt.Fprintln(out, "probe succeeded")
	return nil
}

// awaitEvent prints events until one named want arrives. An error event
// aborts the probe.
func awaitEvent(conn *websocket.Conn, want string, out io.Writer) error {
	deadline := time.Now().Add(probeWait)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("waiting for %s: %w", want, err)
		}
		fmt.Fprintf(out, "<- %s %s\n", env.Event, env.Data)

		switch env.Event {
		case want:
			return nil
		case models.EventError:
			return errors.New("server replied with an error while waiting for " + want)
		}
	}
}

func socketURL(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
