// parley-monitor tails an ops event feed (worker or gateway) and pretty
// prints every envelope. It is a debugging tool, not part of the data path.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/pkg/protocol"
)

// ANSI colors
const (
	reset   = "\033[0m"
	bold    = "\033[1m"
	dim     = "\033[2m"
	red     = "\033[31m"
	green   = "\033[32m"
	yellow  = "\033[33m"
	blue    = "\033[34m"
	magenta = "\033[35m"
	cyan    = "\033[36m"
	white   = "\033[37m"
	bgGray  = "\033[48;5;236m"
)

var typeColors = map[protocol.MessageType]string{
	protocol.TypeError:             red,
	protocol.TypeTokenIssued:       blue,
	protocol.TypeDispatchRequested: green,
	protocol.TypeDispatchResult:    green,
	protocol.TypeProxyError:        red,
	protocol.TypeJobDecision:       yellow,
	protocol.TypeSessionStarted:    cyan,
	protocol.TypeSessionEnded:      cyan,
	protocol.TypeTranscriptEvent:   white,
	protocol.TypeFallbackServed:    red,
	protocol.TypeRoomCleaned:       magenta,
	protocol.TypeMonitorDispatch:   magenta,
	protocol.TypeSubscribe:         blue,
	protocol.TypeSubscribeAck:      blue,
}

type rawMessage struct {
	data []byte
	ts   time.Time
}

func main() {
	url := flag.String("url", "ws://localhost:8791/api/events", "ops feed WebSocket URL (worker :8791, gateway :8790)")
	room := flag.String("room", "", "only show events for this room (default: all rooms)")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	fmt.Printf("%s%s╔══════════════════════════════════════╗%s\n", bold, blue, reset)
	fmt.Printf("%s%s║         Parley Ops Monitor           ║%s\n", bold, blue, reset)
	fmt.Printf("%s%s╚══════════════════════════════════════╝%s\n", bold, blue, reset)
	fmt.Printf("%sConnecting to: %s%s%s\n", dim, reset, *url, reset)

	delays := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
	}

	msgNum := 0
	for {
		conn, err := dialWithRetry(*url, delays, interrupt)
		if err != nil {
			fmt.Printf("\n%s%s─── interrupted ───%s\n", dim, yellow, reset)
			return
		}

		fmt.Printf("%s%s✓ Connected%s\n", bold, green, reset)

		subEnv := protocol.NewEnvelope(*room, protocol.TypeSubscribe, protocol.Subscribe{Room: *room})
		subData, err := subEnv.Encode()
		if err != nil {
			log.Fatalf("%s✗ Failed to encode subscribe: %v%s\n", red, err, reset)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, subData); err != nil {
			conn.Close()
			fmt.Printf("%s✗ Failed to send subscribe: %v%s\n", red, err, reset)
			fmt.Printf("%s%s─── reconnecting... ───%s\n", dim, yellow, reset)
			continue
		}
		if *room != "" {
			fmt.Printf("%s%s✓ Subscribed to room %q%s\n\n", bold, green, *room, reset)
		} else {
			fmt.Printf("%s%s✓ Subscribed (all rooms)%s\n\n", bold, green, reset)
		}

		// Receiver goroutine
		msgCh := make(chan rawMessage, 256)
		go func() {
			defer close(msgCh)
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					fmt.Printf("\n%s✗ Read error: %v%s\n", red, err, reset)
					return
				}
				msgCh <- rawMessage{data: raw, ts: time.Now()}
			}
		}()

		// Printer loop; breaks on disconnect or interrupt.
		disconnected := false
		for !disconnected {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					disconnected = true
				} else {
					msgNum++
					printMessage(msgNum, msg)
				}
			case <-interrupt:
				fmt.Printf("\n%s%s─── interrupted ───%s\n", dim, yellow, reset)
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
				return
			}
		}

		conn.Close()
		fmt.Printf("%s%s─── connection lost, reconnecting... ───%s\n\n", dim, yellow, reset)
	}
}

func dialWithRetry(url string, delays []time.Duration, interrupt <-chan os.Signal) (*websocket.Conn, error) {
	for attempt := 0; ; attempt++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{})
		if err == nil {
			return conn, nil
		}
		if attempt >= len(delays) {
			return nil, fmt.Errorf("failed after %d attempts: %w", attempt+1, err)
		}
		fmt.Printf("%s  retrying in %v...%s\n", dim, delays[attempt], reset)
		select {
		case <-time.After(delays[attempt]):
		case <-interrupt:
			return nil, fmt.Errorf("interrupted")
		}
	}
}

func printMessage(num int, msg rawMessage) {
	timestamp := msg.ts.Format("15:04:05.000")

	env, err := protocol.DecodeEnvelope(msg.data)
	if err == nil && env.Type > 0 {
		printParsedMessage(num, timestamp, env, msg.data)
	} else {
		printRawMessage(num, timestamp, msg.data, err)
	}

	fmt.Println()
}

func printParsedMessage(num int, timestamp string, env *protocol.Envelope, raw []byte) {
	typeName := env.Type.String()
	color := typeColors[env.Type]
	if color == "" {
		color = white
	}

	// Header line
	fmt.Printf("%s%s#%d%s %s%s%s %s%s%s",
		dim, bgGray, num, reset,
		dim, timestamp, reset,
		bold, color, typeName)

	if env.Room != "" {
		fmt.Printf(" %s[%s]%s", dim, env.Room, reset)
	}
	if env.SessionID != "" {
		short := env.SessionID
		if len(short) > 12 {
			short = short[:12]
		}
		fmt.Printf(" %s{%s}%s", dim, short, reset)
	}
	fmt.Printf("%s\n", reset)

	// Trace context
	if env.TraceID != "" {
		fmt.Printf("  %strace:%s %s", dim, reset, env.TraceID[:16])
		if env.SpanID != "" {
			fmt.Printf(" %sspan:%s %s", dim, reset, env.SpanID)
		}
		fmt.Println()
	}

	if env.Body != nil {
		printBody(env.Type, env.Body)
	}

	fmt.Printf("  %s(%d bytes)%s\n", dim, len(raw), reset)
}

func printBody(msgType protocol.MessageType, body any) {
	bodyMap, ok := body.(map[string]any)
	if !ok {
		// Fallback: JSON marshal the body
		data, err := json.MarshalIndent(body, "  ", "  ")
		if err == nil && string(data) != "null" {
			fmt.Printf("  %s\n", string(data))
		}
		return
	}

	// Type-specific rendering
	switch msgType {
	case protocol.TypeError:
		code, _ := bodyMap["code"].(string)
		message, _ := bodyMap["message"].(string)
		fmt.Printf("  %s%s: %s%s\n", red, code, message, reset)
	case protocol.TypeTokenIssued:
		identity, _ := bodyMap["identity"].(string)
		fmt.Printf("  %s🎫%s %s %s(ttl: %vh)%s\n", blue, reset, identity, dim, bodyMap["ttlHours"], reset)
	case protocol.TypeDispatchRequested:
		source, _ := bodyMap["source"].(string)
		fmt.Printf("  %s▶%s dispatch requested %s(source: %s)%s\n", green, reset, dim, source, reset)
	case protocol.TypeDispatchResult:
		success, _ := bodyMap["success"].(bool)
		if success {
			id, _ := bodyMap["dispatchId"].(string)
			fmt.Printf("  %s✓%s dispatched %s%s%s\n", green, reset, dim, id, reset)
		} else {
			errMsg, _ := bodyMap["error"].(string)
			fmt.Printf("  %s✗ %s%s\n", red, truncate(errMsg, 100), reset)
		}
	case protocol.TypeProxyError:
		path, _ := bodyMap["path"].(string)
		errMsg, _ := bodyMap["error"].(string)
		fmt.Printf("  %s✗ %s [%v]: %s%s\n", red, path, bodyMap["status"], truncate(errMsg, 80), reset)
	case protocol.TypeJobDecision:
		accepted, _ := bodyMap["accepted"].(bool)
		if accepted {
			fmt.Printf("  %s✓%s job accepted\n", green, reset)
		} else {
			reason, _ := bodyMap["reason"].(string)
			fmt.Printf("  %s✗%s job rejected: %s\n", red, reset, reason)
		}
	case protocol.TypeSessionStarted:
		name, _ := bodyMap["agentName"].(string)
		fmt.Printf("  %s🎙%s  %s is listening\n", cyan, reset, name)
	case protocol.TypeSessionEnded:
		reason, _ := bodyMap["reason"].(string)
		fmt.Printf("  %s■%s session ended %s(%s)%s\n", cyan, reset, dim, reason, reset)
	case protocol.TypeTranscriptEvent:
		role, _ := bodyMap["role"].(string)
		text, _ := bodyMap["text"].(string)
		if role == "user" {
			fmt.Printf("  %s▶%s %s\n", green, reset, truncate(text, 120))
		} else {
			fmt.Printf("  %s◀%s %s\n", cyan, reset, truncate(text, 120))
		}
	case protocol.TypeFallbackServed:
		reason, _ := bodyMap["reason"].(string)
		fmt.Printf("  %s⚠%s  fallback reply %s(%s)%s\n", red, reset, dim, reason, reset)
	case protocol.TypeRoomCleaned:
		deleted, _ := bodyMap["deleted"].(bool)
		if deleted {
			fmt.Printf("  %s🧹%s room deleted\n", magenta, reset)
		} else {
			fmt.Printf("  %s🧹%s %v stale agents kicked\n", magenta, reset, bodyMap["agentsKicked"])
		}
	case protocol.TypeMonitorDispatch:
		fmt.Printf("  %s▶%s re-dispatch %s(%v humans waiting)%s\n", magenta, reset, dim, bodyMap["humans"], reset)
	case protocol.TypeSubscribeAck:
		success, _ := bodyMap["success"].(bool)
		if success {
			fmt.Printf("  %s✓%s subscribed\n", green, reset)
		} else {
			errMsg, _ := bodyMap["error"].(string)
			fmt.Printf("  %s✗%s %s\n", red, reset, errMsg)
		}
	default:
		printGenericBody(bodyMap)
	}
}

func printGenericBody(m map[string]any) {
	for k, v := range m {
		valStr := fmt.Sprintf("%v", v)
		if len(valStr) > 100 {
			valStr = valStr[:97] + "..."
		}
		fmt.Printf("  %s%s:%s %s\n", dim, k, reset, valStr)
	}
}

func printRawMessage(num int, timestamp string, data []byte, decodeErr error) {
	fmt.Printf("%s%s#%d%s %s%s%s %s[RAW]%s (%d bytes)\n",
		dim, bgGray, num, reset,
		dim, timestamp, reset,
		red, reset,
		len(data))

	if decodeErr != nil {
		fmt.Printf("  %sdecode error: %v%s\n", dim, decodeErr, reset)
	}

	// Print hex dump (first 64 bytes)
	hexStr := hex.EncodeToString(data)
	if len(hexStr) > 128 {
		hexStr = hexStr[:128] + "..."
	}
	// Format as spaced hex pairs
	var formatted strings.Builder
	for i := 0; i < len(hexStr); i += 2 {
		if i > 0 {
			formatted.WriteByte(' ')
		}
		end := i + 2
		if end > len(hexStr) {
			end = len(hexStr)
		}
		formatted.WriteString(hexStr[i:end])
	}
	fmt.Printf("  %s%s%s\n", dim, formatted.String(), reset)
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", "↵")
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
