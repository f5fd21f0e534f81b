package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/threadgate/internal/events"
)

type recordMsg events.Record

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type errMsg error

type disconnectedMsg struct{ lastSeq int64 }

type reconnectMsg struct{ lastSeq int64 }

// readStream parses server-sent events from r and calls emit for every
// complete record. It returns the sequence number of the last record.
func readStream(r io.Reader, after int64, emit func(events.Record)) int64 {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	var cur events.Record
	var data strings.Builder
	last := after
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				cur.Data = json.RawMessage(data.String())
				cur.At = time.Now()
				emit(cur)
				if cur.Seq > last {
					last = cur.Seq
				}
			}
			cur = events.Record{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id: "):
			if n, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.Seq = n
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(line[6:])
		}
	}
	return last
}

// subscribe streams /events into ch until the connection drops.
func subscribe(apiURL, token string, after int64, ch chan<- events.Record) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if after > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(after, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return disconnectedMsg{lastSeq: after}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		last := readStream(resp.Body, after, func(rec events.Record) { ch <- rec })
		return disconnectedMsg{lastSeq: last}
	}
}

func nextRecord(ch <-chan events.Record) tea.Cmd {
	return func() tea.Msg {
		return recordMsg(<-ch)
	}
}

func fetchHealth(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + "/healthz")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
