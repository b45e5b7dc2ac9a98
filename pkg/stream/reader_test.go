// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_Read_CouncilScenario(t *testing.T) {
	body := strings.NewReader(
		"data: {\"type\":\"delta\",\"content\":\"The \"}\n\n" +
			"data: {\"type\":\"delta\",\"content\":\"Council\"}\n\n" +
			"data: {\"type\":\"done\",\"message_id\":\"x\",\"citations\":[{\"title\":\"T\",\"url\":\"u\",\"source_name\":\"S\"}]}\n\n")

	content, terminal, err := NewReader(nil).ReadAll(context.Background(), body)

	require.NoError(t, err)
	assert.Equal(t, "The Council", content)
	assert.Equal(t, EventDone, terminal.Type)
	assert.Equal(t, "x", terminal.MessageID)
	require.Len(t, terminal.Citations, 1)
	assert.Equal(t, "S", terminal.Citations[0].Source)
}

func TestReader_Read_SkipsUnknownAndMalformed(t *testing.T) {
	body := strings.NewReader(
		"data: {\"type\":\"delta\",\"content\":\"a\"}\n\n" +
			"data: {\"type\":\"status\",\"message\":\"thinking\"}\n\n" +
			"data: garbage\n\n" +
			"data: {\"type\":\"delta\",\"content\":\"b\"}\n\n" +
			"data: {\"type\":\"done\",\"message_id\":1,\"citations\":[]}\n\n")

	var events []Event
	err := NewReader(nil).Read(context.Background(), body, func(ev Event) error {
		events = append(events, ev)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{events[0].Index, events[1].Index, events[2].Index})
	assert.Equal(t, "a", events[0].Content)
	assert.Equal(t, "b", events[1].Content)
}

func TestReader_Read_StopsAtTerminal(t *testing.T) {
	body := strings.NewReader(
		"data: {\"type\":\"done\",\"message_id\":1}\n\n" +
			"data: {\"type\":\"delta\",\"content\":\"late\"}\n\n")

	var count int
	err := NewReader(nil).Read(context.Background(), body, func(ev Event) error {
		count++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReader_Read_EOFBeforeDone(t *testing.T) {
	body := strings.NewReader("data: {\"type\":\"delta\",\"content\":\"partial\"}\n\n")

	err := NewReader(nil).Read(context.Background(), body, func(Event) error { return nil })

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReader_Read_CallbackError(t *testing.T) {
	stop := errors.New("stop")
	body := strings.NewReader("data: {\"type\":\"delta\",\"content\":\"a\"}\n\n")

	err := NewReader(nil).Read(context.Background(), body, func(Event) error { return stop })

	assert.ErrorIs(t, err, stop)
}

func TestReader_Read_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewReader(nil).Read(ctx, strings.NewReader("data: {}\n\n"), func(Event) error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}
