package configstore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/proxyscope/internal/domain"
)

const configPath = "/etc/xray/config.json"

func TestMissingDocumentIsEmpty(t *testing.T) {
	s := New(afero.NewMemMapFs(), configPath)
	eps, err := s.ListEndpoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, eps)

	_, ok, err := s.GetEndpoint(context.Background(), 10001)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddListRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, configPath)
	ctx := context.Background()

	ep, err := s.AddEndpoint(ctx, 10002, "stream")
	require.NoError(t, err)
	assert.Equal(t, "/stream", ep.Path)
	assert.Equal(t, "inbound-10002", ep.Tag)
	assert.Len(t, ep.ClientID, 36)

	_, err = s.AddEndpoint(ctx, 10001, "")
	require.NoError(t, err)

	eps, err := s.ListEndpoints(ctx)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, 10001, eps[0].Port)
	assert.Equal(t, "/", eps[0].Path)
	assert.Equal(t, ep, eps[1])

	got, ok, err := s.GetEndpoint(ctx, 10002)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ep.ClientID, got.ClientID)

	require.NoError(t, s.RemoveEndpoint(ctx, 10002))
	eps, err = s.ListEndpoints(ctx)
	require.NoError(t, err)
	require.Len(t, eps, 1)

	exists, err := afero.Exists(fs, configPath+".tmp")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAddDuplicatePort(t *testing.T) {
	s := New(afero.NewMemMapFs(), configPath)
	_, err := s.AddEndpoint(context.Background(), 443, "/a")
	require.NoError(t, err)
	_, err = s.AddEndpoint(context.Background(), 443, "/b")
	require.ErrorIs(t, err, domain.ErrPortAlreadyExists)
}

func TestAddInvalidPort(t *testing.T) {
	s := New(afero.NewMemMapFs(), configPath)
	for _, port := range []int{0, -1, 65536} {
		_, err := s.AddEndpoint(context.Background(), port, "/")
		require.ErrorIs(t, err, domain.ErrInvalidPort)
	}
}

func TestRemoveUnknown(t *testing.T) {
	s := New(afero.NewMemMapFs(), configPath)
	err := s.RemoveEndpoint(context.Background(), 10001)
	require.ErrorIs(t, err, domain.ErrEndpointNotFound)
}

func TestPreservesUnknownKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, configPath, []byte(`{
  "log": {"loglevel": "warning", "access": "/var/log/xray/access.log"},
  "api": {"tag": "api", "services": ["StatsService"]},
  "inbounds": [
    {"port": 10085, "listen": "127.0.0.1", "protocol": "dokodemo-door", "tag": "api"},
    {"port": 8443, "protocol": "vless", "tag": "inbound-8443", "sniffing": {"enabled": true},
     "settings": {"clients": [{"id": "1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed"}], "decryption": "none"},
     "streamSettings": {"network": "ws", "wsSettings": {"path": "/ray"}}}
  ],
  "outbounds": [{"protocol": "freedom"}, {"protocol": "blackhole", "tag": "block"}]
}`), 0o644))

	s := New(fs, configPath)
	ctx := context.Background()
	got, ok, err := s.GetEndpoint(ctx, 8443)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/ray", got.Path)
	assert.Equal(t, "1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed", got.ClientID)

	_, err = s.AddEndpoint(ctx, 9000, "/x")
	require.NoError(t, err)

	raw, err := afero.ReadFile(fs, configPath)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "log")
	assert.Contains(t, doc, "api")
	assert.Len(t, doc["outbounds"], 2)
	list := doc["inbounds"].([]any)
	require.Len(t, list, 3)
	assert.Equal(t, map[string]any{"enabled": true}, list[1].(map[string]any)["sniffing"])
}

func TestInvalidDocument(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, configPath, []byte(`{not json`), 0o644))
	_, err := New(fs, configPath).ListEndpoints(context.Background())
	require.Error(t, err)
}

func TestConcurrentAdds(t *testing.T) {
	s := New(afero.NewMemMapFs(), configPath)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		port := 20000 + i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddEndpoint(context.Background(), port, "/")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	eps, err := s.ListEndpoints(context.Background())
	require.NoError(t, err)
	assert.Len(t, eps, 20)
}
