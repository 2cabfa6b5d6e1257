// Package githubtest provides an in-process fake of the GitHub REST endpoints
// used by the archiver: organization listing, single repository, archive
// toggle and contributors.
package githubtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Contributor is a contributor served by the fake
type Contributor struct {
	Login         string
	Contributions int
}

// Repo is a repository served by the fake
type Repo struct {
	Name       string
	Visibility string
	Archived   bool
	PushedAt   time.Time
	// ListPushedAt, when set, is the cached timestamp shown in listings
	// instead of PushedAt.
	ListPushedAt *time.Time
	Contributors []Contributor
}

// Server is a fake GitHub API
type Server struct {
	*httptest.Server

	Org      string
	PageSize int

	mu           sync.Mutex
	repos        map[string]*Repo
	listCalls    map[int]int
	getCalls     map[string]int
	patchCalls   []string
	failPage     map[int]int
	failGet      map[string]int
	failPatch    map[string]int
	failContribs map[string]int
	limitPage    map[int]func(http.ResponseWriter)
	lastQuery    string
}

// New starts a fake for org, closed when the test ends
func New(t testing.TB, org string, pageSize int) *Server {
	t.Helper()

	s := &Server{
		Org:          org,
		PageSize:     pageSize,
		repos:        make(map[string]*Repo),
		listCalls:    make(map[int]int),
		getCalls:     make(map[string]int),
		failPage:     make(map[int]int),
		failGet:      make(map[string]int),
		failPatch:    make(map[string]int),
		failContribs: make(map[string]int),
		limitPage:    make(map[int]func(http.ResponseWriter)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orgs/{org}/repos", s.handleList)
	mux.HandleFunc("GET /repos/{owner}/{name}", s.handleGet)
	mux.HandleFunc("PATCH /repos/{owner}/{name}", s.handlePatch)
	mux.HandleFunc("GET /repos/{owner}/{name}/contributors", s.handleContributors)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Server.Close)
	return s
}

// BaseURL is the API root to hand to a client
func (s *Server) BaseURL() string {
	return s.URL + "/"
}

// RepoURL is the API URL of a repository
func (s *Server) RepoURL(name string) string {
	return fmt.Sprintf("%s/repos/%s/%s", s.URL, s.Org, name)
}

// AddRepo registers a repository
func (s *Server) AddRepo(r Repo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Visibility == "" {
		r.Visibility = "public"
	}
	repo := r
	s.repos[r.Name] = &repo
}

// AddRepos registers repositories pushed at the given dates (YYYY-MM-DD), named repo-0, repo-1, ...
func (s *Server) AddRepos(dates ...string) []string {
	names := make([]string, 0, len(dates))
	for i, d := range dates {
		pushed, err := time.Parse("2006-01-02", d)
		if err != nil {
			panic(err)
		}
		name := fmt.Sprintf("repo-%d", i)
		s.AddRepo(Repo{Name: name, PushedAt: pushed.Add(12 * time.Hour)})
		names = append(names, name)
	}
	return names
}

// Repo returns a copy of a registered repository
func (s *Server) Repo(name string) (Repo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[name]
	if !ok {
		return Repo{}, false
	}
	return *r, true
}

// SetArchived changes a repository's archived flag out of band
func (s *Server) SetArchived(name string, archived bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.repos[name]; ok {
		r.Archived = archived
	}
}

// FailPage makes listing the given page respond with status
func (s *Server) FailPage(page, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPage[page] = status
}

// ExhaustPage makes listing the given page answer as if the primary rate
// limit were used up until reset
func (s *Server) ExhaustPage(page int, reset time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limitPage[page] = func(w http.ResponseWriter) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		writeJSON(w, http.StatusForbidden, map[string]any{
			"message":           "API rate limit exceeded for user ID 1.",
			"documentation_url": "https://docs.github.com/rest/overview/resources-in-the-rest-api#rate-limiting",
		})
	}
}

// ThrottlePage makes listing the given page answer with a secondary rate
// limit asking callers to retry after the given delay
func (s *Server) ThrottlePage(page int, retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limitPage[page] = func(w http.ResponseWriter) {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
		writeJSON(w, http.StatusForbidden, map[string]any{
			"message":           "You have exceeded a secondary rate limit. Please wait a few minutes before you try again.",
			"documentation_url": "https://docs.github.com/rest/overview/resources-in-the-rest-api#secondary-rate-limits",
		})
	}
}

// FailGet makes fetching the named repository respond with status
func (s *Server) FailGet(name string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGet[name] = status
}

// FailPatch makes archive toggles of the named repository respond with status; 0 clears it
func (s *Server) FailPatch(name string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failPatch, name)
		return
	}
	s.failPatch[name] = status
}

// FailContributors makes the contributors listing of the named repository respond with status
func (s *Server) FailContributors(name string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failContribs[name] = status
}

// ListCalls returns how many times each page was listed
func (s *Server) ListCalls() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]int, len(s.listCalls))
	for k, v := range s.listCalls {
		out[k] = v
	}
	return out
}

// TotalListCalls returns the number of listing requests
func (s *Server) TotalListCalls() int {
	total := 0
	for _, n := range s.ListCalls() {
		total += n
	}
	return total
}

// GetCalls returns how many times the named repository was fetched
func (s *Server) GetCalls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls[name]
}

// PatchCalls returns the repository names patched, in order
func (s *Server) PatchCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.patchCalls...)
}

// LastQuery returns the raw query of the most recent listing request
func (s *Server) LastQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := r.URL.Query()
	s.lastQuery = r.URL.RawQuery

	page, _ := strconv.Atoi(query.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(query.Get("per_page"))
	if perPage < 1 {
		perPage = s.PageSize
	}
	s.listCalls[page]++

	if r.PathValue("org") != s.Org {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if status, ok := s.failPage[page]; ok {
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "30")
		}
		writeError(w, status, http.StatusText(status))
		return
	}
	if limit, ok := s.limitPage[page]; ok {
		limit(w)
		return
	}

	repos := s.sortedLocked(query.Get("type"))
	lastPage := (len(repos) + perPage - 1) / perPage

	start := (page - 1) * perPage
	end := start + perPage
	if start > len(repos) {
		start = len(repos)
	}
	if end > len(repos) {
		end = len(repos)
	}

	if lastPage > 1 && page < lastPage {
		link := func(p int, rel string) string {
			q := r.URL.Query()
			q.Set("page", strconv.Itoa(p))
			return fmt.Sprintf(`<%s%s?%s>; rel="%s"`, s.URL, r.URL.Path, q.Encode(), rel)
		}
		w.Header().Set("Link", link(page+1, "next")+", "+link(lastPage, "last"))
	}

	body := make([]map[string]any, 0, end-start)
	for _, repo := range repos[start:end] {
		pushed := repo.PushedAt
		if repo.ListPushedAt != nil {
			pushed = *repo.ListPushedAt
		}
		body = append(body, s.repoJSON(repo, pushed))
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := r.PathValue("name")
	s.getCalls[name]++

	repo, ok := s.repos[name]
	if !ok || r.PathValue("owner") != s.Org {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if status, ok := s.failGet[name]; ok {
		writeError(w, status, http.StatusText(status))
		return
	}
	writeJSON(w, http.StatusOK, s.repoJSON(repo, repo.PushedAt))
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := r.PathValue("name")
	s.patchCalls = append(s.patchCalls, name)

	repo, ok := s.repos[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if status, ok := s.failPatch[name]; ok {
		writeError(w, status, "Repository was archived so is read-only.")
		return
	}

	var body struct {
		Archived *bool `json:"archived"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Archived == nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request.")
		return
	}
	repo.Archived = *body.Archived
	writeJSON(w, http.StatusOK, s.repoJSON(repo, repo.PushedAt))
}

func (s *Server) handleContributors(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := r.PathValue("name")
	repo, ok := s.repos[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if status, ok := s.failContribs[name]; ok {
		writeError(w, status, http.StatusText(status))
		return
	}
	if len(repo.Contributors) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	body := make([]map[string]any, 0, len(repo.Contributors))
	for _, c := range repo.Contributors {
		body = append(body, map[string]any{
			"login":         c.Login,
			"avatar_url":    "https://avatars.example.com/" + c.Login,
			"html_url":      "https://github.com/" + c.Login,
			"contributions": c.Contributions,
		})
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) sortedLocked(repoType string) []*Repo {
	repos := make([]*Repo, 0, len(s.repos))
	for _, r := range s.repos {
		switch repoType {
		case "public", "private", "internal":
			if !strings.EqualFold(r.Visibility, repoType) {
				continue
			}
		}
		repos = append(repos, r)
	}
	listed := func(r *Repo) time.Time {
		if r.ListPushedAt != nil {
			return *r.ListPushedAt
		}
		return r.PushedAt
	}
	sort.SliceStable(repos, func(i, j int) bool {
		a, b := listed(repos[i]), listed(repos[j])
		if a.Equal(b) {
			return repos[i].Name < repos[j].Name
		}
		return a.After(b)
	})
	return repos
}

func (s *Server) repoJSON(r *Repo, pushed time.Time) map[string]any {
	return map[string]any{
		"name":             r.Name,
		"full_name":        s.Org + "/" + r.Name,
		"url":              s.RepoURL(r.Name),
		"html_url":         "https://github.com/" + s.Org + "/" + r.Name,
		"visibility":       r.Visibility,
		"archived":         r.Archived,
		"pushed_at":        pushed.UTC().Format(time.RFC3339),
		"contributors_url": s.RepoURL(r.Name) + "/contributors",
		"owner":            map[string]any{"login": s.Org},
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"message":           message,
		"documentation_url": "https://docs.github.com/rest",
	})
}
