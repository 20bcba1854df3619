package compose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

func TestConfirmationCarriesLinkAndEscapesText(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	d := types.Draft{
		Topic:     "#security",
		Text:      "Never trust <script>alert(1)</script> input",
		ExpiresAt: time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	msg, err := b.Confirmation(d, "https://bot.example.com/pipeline/confirm?token=abc")
	require.NoError(t, err)

	require.Equal(t, "Confirm your post on #security", msg.Subject)
	require.Contains(t, msg.HTMLBody, `href="https://bot.example.com/pipeline/confirm?token=abc"`)
	require.NotContains(t, msg.HTMLBody, "<script>")
	require.Contains(t, msg.HTMLBody, "&lt;script&gt;")
	require.Contains(t, msg.PlainBody, "https://bot.example.com/pipeline/confirm?token=abc")
	require.Contains(t, msg.PlainBody, "Sun, 02 Mar 2025 09:00:00 UTC")
}

func TestPublishedFollowUp(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	msg, err := b.Published(types.Draft{Topic: "#go", Text: "hello"}, "https://x.com/i/web/status/42")
	require.NoError(t, err)
	require.Contains(t, msg.Subject, "#go")
	require.Contains(t, msg.HTMLBody, "https://x.com/i/web/status/42")
	require.Contains(t, msg.PlainBody, "hello")
}
