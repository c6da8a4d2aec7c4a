package handlers

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"arena-ladder/cache"
	"arena-ladder/config"
	"arena-ladder/models"
	"arena-ladder/notify"
	"arena-ladder/services"
	"arena-ladder/testutil"
	"arena-ladder/utils"
)

const gatewayToken = "gw-secret"

type apiFixture struct {
	t     *testing.T
	db    *gorm.DB
	redis *miniredis.Miniredis
	app   *fiber.App
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := config.Static(config.Defaults())
	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	blobs, err := utils.NewBoltStore(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Shutdown() })
	c := cache.NewRedisCache(mr.Addr(), "api:")

	competitions := services.NewCompetitionService(db)
	priority := services.NewPriorityService(db, c, cfg)
	competitions.OnStatusChange(priority.OnStatusChange)
	scheduler := services.NewSchedulerService(db, cfg, priority, services.NewRoundService(), services.NewMatchStarter())
	results := services.NewResultService(db, cfg, blobs, notify.LogNotifier{}, competitions)
	requests := services.NewMatchRequestService(db, cfg)
	botData := services.NewBotDataService(db, blobs)

	app := fiber.New()
	SetupArenaClientRoutes(app, db, NewArenaClientHandler(scheduler, results, botData, c, cfg))
	SetupMatchRequestRoutes(app, db, gatewayToken, NewMatchRequestHandler(requests, results))
	SetupAdminRoutes(app, db, gatewayToken, NewAdminHandler(competitions, results))

	return &apiFixture{t: t, db: db, redis: mr, app: app}
}

func (f *apiFixture) create(v interface{}) {
	require.NoError(f.t, f.db.Create(v).Error)
}

func (f *apiFixture) user(name string) models.User {
	u := models.User{ExternalUserID: "ext-" + name, Username: name}
	f.create(&u)
	return u
}

func (f *apiFixture) bot(owner models.User, name string) models.Bot {
	b := models.Bot{UserID: owner.ID, Name: name, Race: "P"}
	f.create(&b)
	return b
}

func (f *apiFixture) arenaClient(name string) models.ArenaClient {
	c := models.ArenaClient{Name: name, Token: "token-" + name, Trusted: true, Active: true}
	f.create(&c)
	return c
}

// ladder creates an open competition with two participants.
func (f *apiFixture) ladder() models.Competition {
	comp := models.Competition{
		Name:               "ladder",
		Status:             models.CompetitionOpen,
		RoundsPerCycle:     5,
		MaxActiveRounds:    2,
		TargetNDivisions:   1,
		TargetDivisionSize: 10,
	}
	f.create(&comp)
	f.create(&models.Map{Name: "ladder-map", CompetitionID: &comp.ID, Enabled: true})
	for _, name := range []string{"alpha", "beta"} {
		b := f.bot(f.user(name), name)
		f.create(&models.CompetitionParticipation{
			CompetitionID: comp.ID,
			BotID:         b.ID,
			Elo:           1600,
			HighestElo:    1600,
			Active:        true,
		})
	}
	return comp
}

func (f *apiFixture) do(req *http.Request) (int, map[string]interface{}) {
	resp, err := f.app.Test(req, -1)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)

	body := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(f.t, json.Unmarshal(raw, &body))
	}
	return resp.StatusCode, body
}

func (f *apiFixture) nextMatch(client models.ArenaClient) (int, map[string]interface{}) {
	req := httptest.NewRequest(http.MethodPost, "/arenaclient/next-match", nil)
	req.Header.Set("Authorization", "Token "+client.Token)
	return f.do(req)
}

func userRequest(method, path, body string, user models.User, roles string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+gatewayToken)
	req.Header.Set("X-User-ID", user.ExternalUserID)
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}
	return req
}

func resultForm(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("replay_file", "match.SC2Replay")
	require.NoError(t, err)
	_, err = part.Write([]byte("replay"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestArenaClientRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(httptest.NewRequest(http.MethodPost, "/arenaclient/next-match", nil))
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "arena client token missing", body["error"])

	req := httptest.NewRequest(http.MethodPost, "/arenaclient/next-match", nil)
	req.Header.Set("Authorization", "Token nope")
	status, _ = f.do(req)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestNextMatchAndResultSubmission(t *testing.T) {
	f := newAPIFixture(t)
	f.ladder()
	client := f.arenaClient("runner")

	status, body := f.nextMatch(client)
	require.Equal(t, fiber.StatusOK, status)
	matchID, _ := body["id"].(string)
	require.NotEmpty(t, matchID)
	assert.Len(t, body["participations"], 2)

	var seen models.ArenaClient
	require.NoError(t, f.db.First(&seen, "id = ?", client.ID).Error)
	assert.NotNil(t, seen.LastSeen)

	form, contentType := resultForm(t, map[string]string{
		"type":               string(models.ResultTie),
		"game_steps":         "2400",
		"bot1_avg_step_time": "0.05",
		"bot1_tags":          "Proxy Gate, rush",
	})
	req := httptest.NewRequest(http.MethodPost, "/arenaclient/matches/"+matchID+"/result", form)
	req.Header.Set("Authorization", "Token "+client.Token)
	req.Header.Set("Content-Type", contentType)
	status, body = f.do(req)
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, string(models.ResultTie), body["type"])

	var tags int64
	require.NoError(t, f.db.Model(&models.MatchTag{}).Where("match_id = ?", matchID).Count(&tags).Error)
	assert.EqualValues(t, 2, tags)

	form, contentType = resultForm(t, map[string]string{"type": string(models.ResultTie)})
	req = httptest.NewRequest(http.MethodPost, "/arenaclient/matches/"+matchID+"/result", form)
	req.Header.Set("Authorization", "Token "+client.Token)
	req.Header.Set("Content-Type", contentType)
	status, _ = f.do(req)
	assert.Equal(t, fiber.StatusConflict, status)
}

func TestSubmitResultRejectsOtherClients(t *testing.T) {
	f := newAPIFixture(t)
	f.ladder()
	status, body := f.nextMatch(f.arenaClient("owner"))
	require.Equal(t, fiber.StatusOK, status)
	matchID := body["id"].(string)

	intruder := f.arenaClient("intruder")
	form, contentType := resultForm(t, map[string]string{"type": string(models.ResultPlayer1Win), "game_steps": "10"})
	req := httptest.NewRequest(http.MethodPost, "/arenaclient/matches/"+matchID+"/result", form)
	req.Header.Set("Authorization", "Token "+intruder.Token)
	req.Header.Set("Content-Type", contentType)
	status, _ = f.do(req)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestNextMatchCachesNoGame(t *testing.T) {
	f := newAPIFixture(t)
	client := f.arenaClient("idle")

	status, body := f.nextMatch(client)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "no game available", body["error"])
	assert.True(t, f.redis.Exists("api:no-game:"+client.ID))

	// new work is not seen until the cached entries expire
	f.ladder()
	status, _ = f.nextMatch(client)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)

	f.redis.FastForward(config.Defaults().PriorityCacheTTL())
	status, _ = f.nextMatch(client)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestMatchRequestRoutes(t *testing.T) {
	f := newAPIFixture(t)
	owner := f.user("requester")
	other := f.user("bystander")
	a := f.bot(owner, "req-a")
	b := f.bot(other, "req-b")
	m := models.Map{Name: "free-map", Enabled: true}
	f.create(&m)

	req := httptest.NewRequest(http.MethodPost, "/match-requests", strings.NewReader(`{}`))
	status, _ := f.do(req)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	payload := `{"bot1_id":"` + a.ID + `","bot2_id":"` + b.ID + `","map_id":"` + m.ID + `","count":2,"matchup_type":"specific_matchup"}`
	status, body := f.do(userRequest(http.MethodPost, "/match-requests", payload, owner, ""))
	require.Equal(t, fiber.StatusCreated, status, body)
	matches, _ := body["matches"].([]interface{})
	require.Len(t, matches, 2)
	matchID := matches[0].(map[string]interface{})["id"].(string)

	status, _ = f.do(userRequest(http.MethodPost, "/match-requests/"+matchID+"/cancel", "", other, ""))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = f.do(userRequest(http.MethodPost, "/match-requests/"+matchID+"/cancel", "", owner, ""))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, string(models.ResultMatchCancelled), body["type"])

	status, _ = f.do(userRequest(http.MethodPost, "/match-requests", `{"bot1_id":"`+a.ID+`","count":0}`, owner, ""))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestBannedUserIsRejected(t *testing.T) {
	f := newAPIFixture(t)
	u := f.user("banned")
	require.NoError(t, f.db.Model(&u).Update("is_banned", true).Error)

	status, _ := f.do(userRequest(http.MethodPost, "/match-requests", `{}`, u, ""))
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestAdminCompetitionStatus(t *testing.T) {
	f := newAPIFixture(t)
	comp := f.ladder()
	admin := f.user("admin")
	path := "/admin/competitions/" + comp.ID + "/status"

	status, _ := f.do(userRequest(http.MethodPatch, path, `{"status":"paused"}`, admin, "player"))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := f.do(userRequest(http.MethodPatch, path, `{"status":"paused"}`, admin, "player, admin"))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "paused", body["status"])

	status, _ = f.do(userRequest(http.MethodPatch, path, `{"status":"created"}`, admin, "admin"))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = f.do(userRequest(http.MethodPatch, "/admin/competitions/missing/status", `{"status":"open"}`, admin, "admin"))
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestStatusForWrappedErrors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, fiber.StatusConflict, statusFor(eris.Wrap(services.ErrResultAlreadyExists, "submit")))
	assert.Equal(t, fiber.StatusForbidden, statusFor(services.ErrNotAssigned))
	assert.Equal(t, fiber.StatusInternalServerError, statusFor(eris.New("database on fire")))
}

func TestSplitTags(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b", "c"}, splitTags([]string{"a, b", " c "}))
	assert.NotNil(t, splitTags([]string{""}))
	assert.Empty(t, splitTags([]string{""}))
}
