// Package notifications calls the sibling platform services (enrollment, course
// catalog, progress, educator notifications) after a payment or refund commits.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/coursepay/pkg/config"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
)

const (
	// InternalSecretHeader carries the shared service-to-service secret.
	InternalSecretHeader = "X-Internal-Secret"

	defaultTimeout        = 5 * time.Second
	responseBodyReadLimit = 1024
	lookupBodyReadLimit   = 64 << 10
)

// EarningsEvent distinguishes new pending earnings from a refund clawback.
type EarningsEvent string

const (
	EarningsEventPending EarningsEvent = "PENDING_EARNINGS"
	EarningsEventReduced EarningsEvent = "EARNINGS_REDUCED"
)

type EnrollmentNotice struct {
	UserID        string `json:"userId"`
	CourseID      string `json:"courseId"`
	TransactionID string `json:"transactionId,omitempty"`
}

type EarningsNotice struct {
	EducatorID    string          `json:"educatorId"`
	Event         EarningsEvent   `json:"event"`
	Amount        decimal.Decimal `json:"amount"`
	TotalEarnings decimal.Decimal `json:"totalEarnings"`
	Currency      string          `json:"currency"`
	CourseID      string          `json:"courseId"`
	TransactionID string          `json:"transactionId"`
}

// Notifier is the outbound surface to sibling services. Every call is best effort;
// callers run them from the post-commit dispatcher.
type Notifier interface {
	EnrollUser(ctx context.Context, notice EnrollmentNotice) error
	UnenrollUser(ctx context.Context, notice EnrollmentNotice) error
	AddCourseToUser(ctx context.Context, userID, courseID string) error
	RemoveCourseFromUser(ctx context.Context, userID, courseID string) error
	InitCourseProgress(ctx context.Context, userID, courseID string) error
	NotifyEducatorEarnings(ctx context.Context, notice EarningsNotice) error
}

// Directory resolves display labels owned by sibling services. Lookups return an
// empty string when the owning service is not configured.
type Directory interface {
	CourseTitle(ctx context.Context, courseID string) (string, error)
	UserDisplayName(ctx context.Context, userID string) (string, error)
}

type httpNotifier struct {
	httpClient      *http.Client
	secret          string
	enrollmentURL   string
	courseURL       string
	progressURL     string
	notificationURL string
}

// Option configures optional notifier behavior.
type Option func(*httpNotifier)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(n *httpNotifier) {
		if client != nil {
			n.httpClient = client
		}
	}
}

// NewHTTPNotifier builds a notifier from the configured base URLs. A service whose
// URL is empty is skipped silently.
func NewHTTPNotifier(cfg config.NotificationsConfig, internal config.InternalConfig, opts ...Option) Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	n := &httpNotifier{
		httpClient:      &http.Client{Timeout: timeout},
		secret:          strings.TrimSpace(internal.Secret),
		enrollmentURL:   trimBase(cfg.EnrollmentServiceURL),
		courseURL:       trimBase(cfg.CourseServiceURL),
		progressURL:     trimBase(cfg.ProgressServiceURL),
		notificationURL: trimBase(cfg.NotificationServiceURL),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

func trimBase(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

func (n *httpNotifier) EnrollUser(ctx context.Context, notice EnrollmentNotice) error {
	return n.send(ctx, http.MethodPost, n.enrollmentURL, "/internal/enrollments", notice)
}

func (n *httpNotifier) UnenrollUser(ctx context.Context, notice EnrollmentNotice) error {
	return n.send(ctx, http.MethodPost, n.enrollmentURL, "/internal/enrollments/remove", notice)
}

func (n *httpNotifier) AddCourseToUser(ctx context.Context, userID, courseID string) error {
	path := "/internal/users/" + url.PathEscape(userID) + "/courses"
	return n.send(ctx, http.MethodPost, n.courseURL, path, map[string]string{"courseId": courseID})
}

func (n *httpNotifier) RemoveCourseFromUser(ctx context.Context, userID, courseID string) error {
	path := "/internal/users/" + url.PathEscape(userID) + "/courses/" + url.PathEscape(courseID)
	return n.send(ctx, http.MethodDelete, n.courseURL, path, nil)
}

func (n *httpNotifier) InitCourseProgress(ctx context.Context, userID, courseID string) error {
	return n.send(ctx, http.MethodPost, n.progressURL, "/internal/progress/init", EnrollmentNotice{UserID: userID, CourseID: courseID})
}

func (n *httpNotifier) NotifyEducatorEarnings(ctx context.Context, notice EarningsNotice) error {
	return n.send(ctx, http.MethodPost, n.notificationURL, "/internal/notifications/educator-earnings", notice)
}

func (n *httpNotifier) CourseTitle(ctx context.Context, courseID string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	if err := n.do(ctx, http.MethodGet, n.courseURL, "/internal/courses/"+url.PathEscape(courseID), nil, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Title), nil
}

func (n *httpNotifier) UserDisplayName(ctx context.Context, userID string) (string, error) {
	var out struct {
		DisplayName string `json:"displayName"`
	}
	if err := n.do(ctx, http.MethodGet, n.courseURL, "/internal/users/"+url.PathEscape(userID), nil, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.DisplayName), nil
}

func (n *httpNotifier) send(ctx context.Context, method, base, path string, body any) error {
	return n.do(ctx, method, base, path, body, nil)
}

// do issues one call to a sibling service. When out is non-nil a 2xx body is
// decoded into it.
func (n *httpNotifier) do(ctx context.Context, method, base, path string, body, out any) error {
	if base == "" {
		return nil
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal notification payload")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build notification request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if out != nil {
		req.Header.Set("Accept", "application/json")
	}
	if n.secret != "" {
		req.Header.Set(InternalSecretHeader, n.secret)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s", method, path))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, lookupBodyReadLimit)).Decode(out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode %s %s", method, path))
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
