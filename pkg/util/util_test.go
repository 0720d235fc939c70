package util

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJsonFromText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "fenced block",
			in:   "Here you go:\n```json\n{\"summary\":\"x\"}\n```\nthanks",
			want: `{"summary":"x"}`,
		},
		{
			name: "bare object with chatter",
			in:   `Sure! {"a":1,"b":[1,2]} Hope that helps.`,
			want: `{"a":1,"b":[1,2]}`,
		},
		{
			name: "array first",
			in:   `result: [{"a":1}]`,
			want: `[{"a":1}]`,
		},
		{
			name: "no json",
			in:   "nothing here",
			want: "nothing here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJsonFromText(tt.in))
		})
	}
}

func TestParseProbeDuration(t *testing.T) {
	ms, err := parseProbeDuration(`{"format":{"filename":"a.mp3","duration":"12.3456"}}`)
	require.NoError(t, err)
	assert.Equal(t, int64(12346), ms)

	_, err = parseProbeDuration(`{"format":{}}`)
	assert.Error(t, err)

	_, err = parseProbeDuration(`not json`)
	assert.Error(t, err)
}

func TestRunCmdStopsOnCancel(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runCmd(ctx, exec.Command("sleep", "5"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("  abc \n", 10))
	assert.Equal(t, "def", tail("abcdef", 3))
}
