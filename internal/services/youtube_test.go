package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ"},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"  https://music.youtube.com/watch?v=dQw4w9WgXcQ  ", "dQw4w9WgXcQ"},
	}
	for _, tc := range tests {
		got, err := ExtractVideoID(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "not a url", "https://vimeo.com/12345", "https://youtube.com/watch?v=short", "https://youtube.com/channel/abc"} {
		_, err := ExtractVideoID(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseCaptionsXML(t *testing.T) {
	text, err := parseCaptionsXML([]byte(`<transcript>` +
		`<text start="0" dur="1.5">Hello &amp;amp; welcome</text>` +
		`<text start="1.5" dur="2"> </text>` +
		`<text start="3.5" dur="2">to biology</text>` +
		`</transcript>`))
	require.NoError(t, err)
	assert.Equal(t, "Hello & welcome to biology", text)

	_, err = parseCaptionsXML([]byte(`<transcript></transcript>`))
	assert.Error(t, err)
}

func TestExtractCaptionURL(t *testing.T) {
	page := `..."captionTracks":[{"baseUrl":"https:\/\/www.youtube.com\/api\/timedtext?v=abc&lang=en","name":{}}],"audioTracks"...`
	got, err := extractCaptionURL(page)
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/api/timedtext?v=abc&lang=en", got)

	_, err = extractCaptionURL("<html>no captions</html>")
	assert.Error(t, err)
}
