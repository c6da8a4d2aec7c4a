package workers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"arena-ladder/models"
)

const profilesPath = "/api/v1/public/profiles"

// RemoteProfile matches one entry of the profile service change feed.
type RemoteProfile struct {
	ExternalID    string    `json:"external_id"`
	Username      string    `json:"username"`
	AccountStatus string    `json:"account_status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type profileChanges struct {
	Users []RemoteProfile `json:"users"`
}

func (p RemoteProfile) banned() bool {
	return p.AccountStatus == "suspended" || p.AccountStatus == "banned"
}

// UserSyncWorker mirrors account changes from the profile service into the
// users table so bot owners and match requesters resolve locally.
type UserSyncWorker struct {
	db           *gorm.DB
	baseURL      string
	serviceToken string
	httpClient   *http.Client
	logger       zerolog.Logger
}

func NewUserSyncWorker(db *gorm.DB, baseURL, serviceToken string) *UserSyncWorker {
	return &UserSyncWorker{
		db:           db,
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       log.With().Str("component", "user_sync").Logger(),
	}
}

// lastSyncTime is the newest remote update already mirrored.
func (w *UserSyncWorker) lastSyncTime(ctx context.Context) (time.Time, error) {
	var latest models.User
	err := w.db.WithContext(ctx).Order("updated_at DESC").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Unix(0, 0).UTC(), nil
	}
	if err != nil {
		return time.Time{}, eris.Wrap(err, "failed to read last sync time")
	}
	return latest.UpdatedAt, nil
}

// Sync fetches every profile changed since the last run and upserts it.
// It returns the number of users written.
func (w *UserSyncWorker) Sync(ctx context.Context) (int, error) {
	since, err := w.lastSyncTime(ctx)
	if err != nil {
		return 0, err
	}

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid profile service URL %q", w.baseURL)
	}
	endpoint := base.JoinPath(profilesPath)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return 0, eris.Wrap(err, "failed to build profile request")
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "profile service request failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, eris.Errorf("profile service returned %d: %s", resp.StatusCode, body)
	}

	var changes profileChanges
	if err := json.NewDecoder(resp.Body).Decode(&changes); err != nil {
		return 0, eris.Wrap(err, "failed to decode profile changes")
	}

	written := 0
	for _, remote := range changes.Users {
		if remote.ExternalID == "" {
			continue
		}
		user := models.User{
			ExternalUserID: remote.ExternalID,
			Username:       remote.Username,
			IsBanned:       remote.banned(),
			Timestamps:     models.Timestamps{CreatedAt: remote.CreatedAt, UpdatedAt: remote.UpdatedAt},
		}
		if err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "is_banned", "updated_at"}),
		}).Create(&user).Error; err != nil {
			w.logger.Warn().Err(err).Str("external_id", remote.ExternalID).Msg("[SYNC] failed to upsert user")
			continue
		}
		written++
	}

	if len(changes.Users) > 0 {
		w.logger.Info().Int("received", len(changes.Users)).Int("written", written).Msg("[SYNC] mirrored profile changes")
	}
	return written, nil
}
