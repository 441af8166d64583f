package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"persona-chat/internal/domain"
)

const streamDone = "[DONE]"

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// ChatStream sends a streaming completion request and calls onDelta for every
// non-empty content delta in arrival order. It returns the concatenated text.
// An error from onDelta stops the stream and is returned as is.
func (c *Client) ChatStream(ctx context.Context, in domain.ChatRequest, onDelta func(string) error) (string, error) {
	req, url, err := c.newChatRequest(ctx, in, true)
	if err != nil {
		return "", err
	}

	res, err := c.do(req, url)
	if err != nil {
		return "", fmt.Errorf("openai: stream request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	var out strings.Builder
	err = streamSSE(res.Body, func(_ string, data string) error {
		if data == streamDone {
			return errStreamDone
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("openai: decode stream chunk: %w", err)
		}
		for _, choice := range chunk.Choices {
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			out.WriteString(delta)
			if onDelta != nil {
				if err := onDelta(delta); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStreamDone) {
		return out.String(), err
	}
	return out.String(), nil
}

var errStreamDone = errors.New("openai: stream done")

// streamSSE reads server-sent events from r and calls onEvent once per event
// with its name and joined data lines.
func streamSSE(r io.Reader, onEvent func(event string, data string) error) error {
	br := bufio.NewReader(r)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		ev := eventName
		dataLines = nil
		eventName = ""
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("openai: read stream: %w", err)
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if ferr := flush(); ferr != nil {
				return ferr
			}
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if eof {
			return flush()
		}
	}
}
