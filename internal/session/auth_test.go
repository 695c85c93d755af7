package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/config"
	"github.com/aidosk/court-docket-crawler/internal/resilience"
)

// fakeOrigin imitates the legacy JSF origin: single-use tokens, a
// credential form with generated ids, and a protected services page.
type fakeOrigin struct {
	mu           sync.Mutex
	tokenSeq     int
	landingHits  int
	verifyHits   int
	loginPosts   []url.Values
	loggedIn     bool
	verifyStatus int
	markerCounts []int
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{verifyStatus: http.StatusOK, markerCounts: []int{4}}
}

// markersForVerify returns the marker count for the current verify hit;
// the last configured value repeats.
func (f *fakeOrigin) markersForVerify() int {
	idx := f.verifyHits - 1
	if idx >= len(f.markerCounts) {
		idx = len(f.markerCounts) - 1
	}
	return f.markerCounts[idx]
}

func (f *fakeOrigin) nextToken() string {
	f.tokenSeq++
	return fmt.Sprintf("-1000%d:2000%d", f.tokenSeq, f.tokenSeq)
}

func (f *fakeOrigin) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.landingHits++
		fmt.Fprintf(w, `<html><body><form>
			<input type="hidden" name="javax.faces.ViewState" value=%q />
		</form></body></html>`, f.nextToken())
	})
	mux.HandleFunc("/index.xhtml", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPost {
			_ = r.ParseForm()
			if r.PostForm.Get("j_idt82:auth:xin") != "" {
				f.loginPosts = append(f.loginPosts, r.PostForm)
				f.loggedIn = true
			}
			return
		}
		fmt.Fprintf(w, `<html><body><form id="j_idt82">
			<input type="hidden" name="javax.faces.ViewState" value=%q />
			<input type="email" name="j_idt82:auth:xin" />
			<input type="password" name="j_idt82:auth:password" />
			<input type="submit" name="j_idt82:auth:loginBtn" value="Войти" />
		</form></body></html>`, f.nextToken())
	})
	mux.HandleFunc("/form/proceedings/services.xhtml", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.verifyHits++
		if f.verifyStatus != http.StatusOK {
			w.WriteHeader(f.verifyStatus)
			return
		}
		markers := []string{"profile-context-menu", "Выйти", "logout()", "userInfo.xhtml"}
		page := "<html><body>"
		count := f.markersForVerify()
		for i := 0; i < count && i < len(markers); i++ {
			page += "<span>" + markers[i] + "</span>"
		}
		fmt.Fprint(w, page+"</body></html>")
	})
	return mux
}

func testManager(t *testing.T, origin *fakeOrigin) (*Manager, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(origin.handler())
	t.Cleanup(srv.Close)

	retry := resilience.NewStrategy(resilience.RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}, nil, zap.NewNop())
	mgr := NewManager(srv.URL, config.HTTPConfig{
		TimeoutSeconds: 5,
		UserAgent:      "test-agent",
	}, retry, zap.NewNop())
	t.Cleanup(mgr.Close)
	return mgr, srv
}

func testAuthenticator(mgr *Manager, attempts int) *Authenticator {
	retry := resilience.NewStrategy(resilience.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}, nil, zap.NewNop())
	return NewAuthenticator(mgr, config.AuthConfig{
		Login:    "user@example.com",
		Password: "hunter2",
		UserName: "Operator",
	}, retry, 0, zap.NewNop())
}

func TestAuthenticateHappyPath(t *testing.T) {
	origin := newFakeOrigin()
	mgr, _ := testManager(t, origin)
	auth := testAuthenticator(mgr, 1)

	require.NoError(t, auth.Authenticate(context.Background()))

	origin.mu.Lock()
	defer origin.mu.Unlock()
	require.Len(t, origin.loginPosts, 1)
	posted := origin.loginPosts[0]
	require.Equal(t, "user@example.com", posted.Get("j_idt82:auth:xin"))
	require.Equal(t, "hunter2", posted.Get("j_idt82:auth:password"))
	require.Equal(t, "j_idt82:auth:loginBtn", posted.Get("javax.faces.source"))
	require.Equal(t, "true", posted.Get("javax.faces.partial.ajax"))
	require.NotEmpty(t, posted.Get("javax.faces.ViewState"))
}

func TestAuthenticateRejectedCredentialsIsTerminal(t *testing.T) {
	origin := newFakeOrigin()
	origin.verifyStatus = http.StatusUnauthorized
	mgr, _ := testManager(t, origin)
	auth := testAuthenticator(mgr, 3)

	err := auth.Authenticate(context.Background())

	var authErr *resilience.AuthError
	require.ErrorAs(t, err, &authErr)
	var terminal *resilience.TerminalError
	require.ErrorAs(t, err, &terminal)
	require.Equal(t, http.StatusUnauthorized, terminal.StatusCode)

	origin.mu.Lock()
	defer origin.mu.Unlock()
	require.Equal(t, 1, origin.landingHits, "terminal rejection must not restart the sequence")
}

func TestAuthenticateRetriesOnMarkerShortfall(t *testing.T) {
	origin := newFakeOrigin()
	origin.markerCounts = []int{2, 4} // first verify flaky, second complete
	mgr, _ := testManager(t, origin)
	auth := testAuthenticator(mgr, 3)

	require.NoError(t, auth.Authenticate(context.Background()))

	origin.mu.Lock()
	defer origin.mu.Unlock()
	require.Equal(t, 2, origin.verifyHits)
	require.Equal(t, 2, origin.landingHits, "each retry must restart from the landing page")
}

func TestAuthenticateThreeOfFourMarkersSuffice(t *testing.T) {
	origin := newFakeOrigin()
	origin.markerCounts = []int{3}
	mgr, _ := testManager(t, origin)
	auth := testAuthenticator(mgr, 1)

	require.NoError(t, auth.Authenticate(context.Background()))
}

func TestManagerClassifiesOverload(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	retry := resilience.NewStrategy(resilience.RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}, nil, zap.NewNop())
	mgr := NewManager(srv.URL, config.HTTPConfig{TimeoutSeconds: 5}, retry, zap.NewNop())
	defer mgr.Close()

	_, err := mgr.Get(context.Background(), "/anything")

	var exhausted *resilience.ExhaustedError
	require.ErrorAs(t, err, &exhausted, "overload must be retried to exhaustion")
	var overload *resilience.OverloadError
	require.ErrorAs(t, err, &overload)
	require.Equal(t, 2, hits)
}

func TestManagerResetDropsCookies(t *testing.T) {
	var sawCookie bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("JSESSIONID"); err == nil {
			sawCookie = true
		}
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc123"})
	}))
	defer srv.Close()

	retry := resilience.NewStrategy(resilience.RetryConfig{MaxAttempts: 1}, nil, zap.NewNop())
	mgr := NewManager(srv.URL, config.HTTPConfig{TimeoutSeconds: 5}, retry, zap.NewNop())
	defer mgr.Close()

	ctx := context.Background()
	_, err := mgr.Get(ctx, "/")
	require.NoError(t, err)
	_, err = mgr.Get(ctx, "/")
	require.NoError(t, err)
	require.True(t, sawCookie, "second request must carry the session cookie")

	sawCookie = false
	mgr.Reset()
	_, err = mgr.Get(ctx, "/")
	require.NoError(t, err)
	require.False(t, sawCookie, "reset must start an anonymous session")
}
