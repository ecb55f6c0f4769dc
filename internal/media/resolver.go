package media

import (
	"net/url"
	"strconv"
	"strings"
	"sync"

	"clipstudio/internal/domain"
)

// Resolver turns backend-relative asset paths into fetchable URLs. Assets
// that were regenerated or re-uploaded carry a ?v=N revision so renderers
// never show a stale cached copy.
type Resolver struct {
	base string

	mu        sync.Mutex
	revisions map[string]int
}

func NewResolver(baseURL string) *Resolver {
	return &Resolver{
		base:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		revisions: make(map[string]int),
	}
}

// URL returns "" for an empty path, passes absolute http(s) and data: URLs
// through unchanged, and otherwise builds {base}/projects/{id}/{filename}.
func (r *Resolver) URL(id domain.ProjectID, assetPath string) string {
	p := strings.TrimSpace(assetPath)
	if p == "" {
		return ""
	}
	if isAbsolute(p) {
		return p
	}
	filename := p
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	u := r.base + "/projects/" + url.PathEscape(string(id)) + "/" + url.PathEscape(filename)

	r.mu.Lock()
	rev := r.revisions[revisionKey(id, filename)]
	r.mu.Unlock()
	if rev > 0 {
		u += "?v=" + strconv.Itoa(rev)
	}
	return u
}

// Bust bumps the revision of an asset after it changed server-side.
func (r *Resolver) Bust(id domain.ProjectID, assetPath string) {
	filename := strings.TrimSpace(assetPath)
	if filename == "" || isAbsolute(filename) {
		return
	}
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	r.mu.Lock()
	r.revisions[revisionKey(id, filename)]++
	r.mu.Unlock()
}

// Forget drops all revisions, used when a different project is loaded.
func (r *Resolver) Forget() {
	r.mu.Lock()
	r.revisions = make(map[string]int)
	r.mu.Unlock()
}

func (r *Resolver) MusicStreamURL(musicID string) string {
	id := strings.TrimSpace(musicID)
	if id == "" {
		return ""
	}
	return r.base + "/music/" + url.PathEscape(id) + "/stream"
}

// MusicURL resolves the background track selected by settings, or "" when
// music is disabled or nothing is selected.
func (r *Resolver) MusicURL(p domain.Project, s domain.MusicSettings) string {
	if !s.EnableMusic {
		return ""
	}
	switch s.MusicSource {
	case domain.MusicSourceCustom:
		return r.URL(p.ID, p.CustomMusicPath)
	default:
		return r.MusicStreamURL(s.TrackID())
	}
}

func revisionKey(id domain.ProjectID, filename string) string {
	return string(id) + "/" + filename
}

func isAbsolute(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "data:")
}
