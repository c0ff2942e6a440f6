package crawler

import "sync"

// ClaimStatus is the outcome of CrawlState.Claim.
type ClaimStatus int

const (
	// ClaimReady means a URL was moved from the frontier to visited.
	ClaimReady ClaimStatus = iota
	// ClaimWait means the frontier is empty but pages are still in flight
	// and may enqueue more work.
	ClaimWait
	// ClaimDone means there is nothing left to crawl: the frontier is
	// exhausted with no page in flight, or the page budget is spent.
	ClaimDone
)

// CrawlState is the run-wide bookkeeping shared by the engine and the stores.
// Every method is safe for concurrent use.
type CrawlState struct {
	mu sync.Mutex

	frontier []string
	queued   map[string]struct{}

	visited    map[string]struct{}
	visitOrder []string
	failed     map[string]struct{}
	failOrder  []string
	active     int

	assets   map[string]struct{}
	inflight map[string]struct{}
}

// NewCrawlState returns an empty state.
func NewCrawlState() *CrawlState {
	return &CrawlState{
		queued:   make(map[string]struct{}),
		visited:  make(map[string]struct{}),
		failed:   make(map[string]struct{}),
		assets:   make(map[string]struct{}),
		inflight: make(map[string]struct{}),
	}
}

// Enqueue appends url to the frontier unless it was already visited or queued.
func (s *CrawlState) Enqueue(url string) bool {
	if url == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.visited[url]; seen {
		return false
	}
	if _, queued := s.queued[url]; queued {
		return false
	}
	s.queued[url] = struct{}{}
	s.frontier = append(s.frontier, url)
	return true
}

// Claim pops the next unvisited URL and marks it visited in one step. A
// maxPages of zero or less means no budget. Every ClaimReady must be paired
// with a call to Release once the page has been handled.
func (s *CrawlState) Claim(maxPages int) (string, ClaimStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if maxPages > 0 && len(s.visited) >= maxPages {
			return "", ClaimDone
		}
		if len(s.frontier) == 0 {
			if s.active > 0 {
				return "", ClaimWait
			}
			return "", ClaimDone
		}
		url := s.frontier[0]
		s.frontier[0] = ""
		s.frontier = s.frontier[1:]
		delete(s.queued, url)
		if _, seen := s.visited[url]; seen {
			continue
		}
		s.visited[url] = struct{}{}
		s.visitOrder = append(s.visitOrder, url)
		s.active++
		return url, ClaimReady
	}
}

// Release marks a claimed page as handled.
func (s *CrawlState) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		s.active--
	}
}

// MarkFailed records a page that could not be fetched.
func (s *CrawlState) MarkFailed(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.failed[url]; dup {
		return
	}
	s.failed[url] = struct{}{}
	s.failOrder = append(s.failOrder, url)
}

// IsVisited reports whether url has been claimed.
func (s *CrawlState) IsVisited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.visited[url]
	return ok
}

// BeginAsset reserves url for download. It returns false when the asset is
// already downloaded or another worker holds the reservation.
func (s *CrawlState) BeginAsset(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.assets[url]; done {
		return false
	}
	if _, busy := s.inflight[url]; busy {
		return false
	}
	s.inflight[url] = struct{}{}
	return true
}

// FinishAsset releases the reservation taken by BeginAsset, recording the
// asset as downloaded when ok is true.
func (s *CrawlState) FinishAsset(url string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, url)
	if ok {
		s.assets[url] = struct{}{}
	}
}

// HasAsset reports whether url has been downloaded.
func (s *CrawlState) HasAsset(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.assets[url]
	return ok
}

// Visited returns the visited URLs in claim order.
func (s *CrawlState) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.visitOrder...)
}

// Failed returns the failed URLs in failure order.
func (s *CrawlState) Failed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.failOrder...)
}

// VisitedCount returns the number of claimed pages.
func (s *CrawlState) VisitedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visited)
}

// AssetCount returns the number of downloaded assets.
func (s *CrawlState) AssetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assets)
}

// FrontierLen returns the number of queued URLs.
func (s *CrawlState) FrontierLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frontier)
}
