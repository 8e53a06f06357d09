package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderRelayPage_PinsOrigin(t *testing.T) {
	page, err := RenderRelayPage("https://dashboard.example.com/", RelayPayload{
		AccessToken: "tok123",
		ExpiresIn:   3600,
	})
	require.NoError(t, err)

	assert.Contains(t, page, "dashboard.example.com")
	assert.Contains(t, page, "postMessage")
	assert.Contains(t, page, "tok123")
	assert.Contains(t, page, `"type":"oauth-result"`)
}

func TestRenderRelayPage_EmptyOriginFails(t *testing.T) {
	_, err := RenderRelayPage("", RelayPayload{AccessToken: "tok"})
	assert.Error(t, err)
}

func TestRenderRelayPage_CarriesError(t *testing.T) {
	page, err := RenderRelayPage("https://dashboard.example.com", RelayPayload{
		Error: "exchange failed",
	})
	require.NoError(t, err)
	assert.Contains(t, page, "exchange failed")
	assert.NotContains(t, page, "access_token")
}
