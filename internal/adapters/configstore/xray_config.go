package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/ghalamif/proxyscope/internal/domain"
	"github.com/ghalamif/proxyscope/internal/ports"
)

// XrayConfigStore keeps endpoints as vless/ws inbounds of an Xray JSON
// configuration. Keys it does not know about are written back untouched.
type XrayConfigStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

func New(fs afero.Fs, path string) *XrayConfigStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &XrayConfigStore{fs: fs, path: path}
}

func (s *XrayConfigStore) ListEndpoints(ctx context.Context) ([]domain.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Endpoint, 0, len(inbounds(doc)))
	for _, ib := range inbounds(doc) {
		if ep, ok := toEndpoint(ib); ok {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

func (s *XrayConfigStore) GetEndpoint(ctx context.Context, port int) (domain.Endpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return domain.Endpoint{}, false, err
	}
	idx := indexOf(doc, port)
	if idx < 0 {
		return domain.Endpoint{}, false, nil
	}
	ep, _ := toEndpoint(inbounds(doc)[idx])
	return ep, true, nil
}

func (s *XrayConfigStore) AddEndpoint(ctx context.Context, port int, path string) (domain.Endpoint, error) {
	if !domain.ValidPort(port) {
		return domain.Endpoint{}, xerrors.Errorf("add %d: %w", port, domain.ErrInvalidPort)
	}
	path = normalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return domain.Endpoint{}, err
	}
	if indexOf(doc, port) >= 0 {
		return domain.Endpoint{}, xerrors.Errorf("add %d: %w", port, domain.ErrPortAlreadyExists)
	}

	ep := domain.Endpoint{
		Port:     port,
		Path:     path,
		ClientID: uuid.NewString(),
		Tag:      fmt.Sprintf("inbound-%d", port),
	}
	doc["inbounds"] = append(inbounds(doc), map[string]any{
		"port":     port,
		"protocol": "vless",
		"tag":      ep.Tag,
		"settings": map[string]any{
			"clients":    []any{map[string]any{"id": ep.ClientID}},
			"decryption": "none",
		},
		"streamSettings": map[string]any{
			"network":    "ws",
			"wsSettings": map[string]any{"path": path},
		},
	})
	if err := s.save(doc); err != nil {
		return domain.Endpoint{}, err
	}
	return ep, nil
}

func (s *XrayConfigStore) RemoveEndpoint(ctx context.Context, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	idx := indexOf(doc, port)
	if idx < 0 {
		return xerrors.Errorf("remove %d: %w", port, domain.ErrEndpointNotFound)
	}
	list := inbounds(doc)
	doc["inbounds"] = append(list[:idx:idx], list[idx+1:]...)
	return s.save(doc)
}

func (s *XrayConfigStore) load() (map[string]any, error) {
	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyDocument(), nil
		}
		return nil, xerrors.Errorf("read %s: %w", s.path, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return emptyDocument(), nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, xerrors.Errorf("decode %s: %w", s.path, err)
	}
	if doc == nil {
		doc = emptyDocument()
	}
	if _, ok := doc["inbounds"]; !ok {
		doc["inbounds"] = []any{}
	}
	return doc, nil
}

// save replaces the document through a rename so the proxy never reads a
// half-written file.
func (s *XrayConfigStore) save(doc map[string]any) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return xerrors.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Errorf("mkdir %s: %w", dir, err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, raw, 0o644); err != nil {
		return xerrors.Errorf("write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return xerrors.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func emptyDocument() map[string]any {
	return map[string]any{
		"inbounds":  []any{},
		"outbounds": []any{map[string]any{"protocol": "freedom"}},
	}
}

func inbounds(doc map[string]any) []any {
	list, _ := doc["inbounds"].([]any)
	return list
}

func indexOf(doc map[string]any, port int) int {
	for i, ib := range inbounds(doc) {
		m, ok := ib.(map[string]any)
		if !ok {
			continue
		}
		if p, ok := portOf(m); ok && p == port {
			return i
		}
	}
	return -1
}

func portOf(m map[string]any) (int, bool) {
	switch v := m["port"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func toEndpoint(ib any) (domain.Endpoint, bool) {
	m, ok := ib.(map[string]any)
	if !ok {
		return domain.Endpoint{}, false
	}
	port, ok := portOf(m)
	if !ok {
		return domain.Endpoint{}, false
	}
	ep := domain.Endpoint{Port: port, Path: "/"}
	ep.Tag, _ = m["tag"].(string)
	if settings, ok := m["settings"].(map[string]any); ok {
		if clients, ok := settings["clients"].([]any); ok && len(clients) > 0 {
			if c, ok := clients[0].(map[string]any); ok {
				ep.ClientID, _ = c["id"].(string)
			}
		}
	}
	if stream, ok := m["streamSettings"].(map[string]any); ok {
		if ws, ok := stream["wsSettings"].(map[string]any); ok {
			if p, ok := ws["path"].(string); ok && p != "" {
				ep.Path = p
			}
		}
	}
	return ep, true
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

var _ ports.EndpointStore = (*XrayConfigStore)(nil)
