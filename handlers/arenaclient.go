package handlers

import (
	"errors"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	"gorm.io/gorm"

	"arena-ladder/cache"
	"arena-ladder/config"
	"arena-ladder/middleware"
	"arena-ladder/models"
	"arena-ladder/services"
	"arena-ladder/utils"
)

const noGameKeyPrefix = "no-game:"

// ArenaClientHandler serves the match runners.
type ArenaClientHandler struct {
	Scheduler *services.SchedulerService
	Results   *services.ResultService
	BotData   *services.BotDataService
	Cache     cache.Cache
	Config    config.Provider
	logger    zerolog.Logger
}

func NewArenaClientHandler(scheduler *services.SchedulerService, results *services.ResultService, botData *services.BotDataService, c cache.Cache, cfg config.Provider) *ArenaClientHandler {
	return &ArenaClientHandler{
		Scheduler: scheduler,
		Results:   results,
		BotData:   botData,
		Cache:     c,
		Config:    cfg,
		logger:    log.With().Str("component", "arenaclient_api").Logger(),
	}
}

func SetupArenaClientRoutes(app *fiber.App, db *gorm.DB, h *ArenaClientHandler) {
	arena := app.Group("/arenaclient", middleware.ArenaClientAuthMiddleware(db))
	arena.Post("/next-match", h.NextMatch)
	arena.Post("/matches/:id/result", h.SubmitResult)
	arena.Get("/matches/:id/participants/:num/data", h.DownloadBotData)
}

// NextMatch hands the calling client a match to run. A client that was just
// told there is nothing to do gets the same answer until the no-game entry
// expires.
func (h *ArenaClientHandler) NextMatch(c *fiber.Ctx) error {
	client := middleware.ArenaClient(c)
	ctx := c.UserContext()
	settings := h.Config.Settings()
	key := noGameKeyPrefix + client.ID

	if _, cached, err := h.Cache.Get(ctx, key); err != nil {
		h.logger.Warn().Err(err).Msg("[ArenaClient] no-game cache read failed")
	} else if cached {
		return h.noGame(c, settings)
	}

	req := services.NextMatchRequest{
		ArenaClient:    client,
		OnlyUnfinished: cast.ToBool(c.FormValue("only_unfinished")),
		SkipReissue:    cast.ToBool(c.FormValue("skip_reissue")),
	}
	match, err := h.Scheduler.NextMatch(ctx, req)
	if errors.Is(err, services.ErrNoGameAvailable) {
		if !req.OnlyUnfinished && !req.SkipReissue && settings.NoGameCacheTTLSeconds > 0 {
			if err := h.Cache.Set(ctx, key, []byte("1"), settings.NoGameCacheTTL()); err != nil {
				h.logger.Warn().Err(err).Msg("[ArenaClient] no-game cache write failed")
			}
		}
		return h.noGame(c, settings)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}

func (h *ArenaClientHandler) noGame(c *fiber.Ctx, settings config.Settings) error {
	if settings.NoGameCacheTTLSeconds > 0 {
		c.Set(fiber.HeaderRetryAfter, cast.ToString(settings.NoGameCacheTTLSeconds))
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": services.ErrNoGameAvailable.Error()})
}

// SubmitResult accepts the multipart result upload for a match.
func (h *ArenaClientHandler) SubmitResult(c *fiber.Ctx) error {
	client := middleware.ArenaClient(c)

	form, err := c.MultipartForm()
	if err != nil {
		return badRequest(c, "multipart form required")
	}

	req := services.SubmitResultRequest{
		MatchID:       c.Params("id"),
		ArenaClientID: client.ID,
		Type:          models.ResultType(formValue(form, "type")),
	}
	if raw := formValue(form, "game_steps"); raw != "" {
		if req.GameSteps, err = cast.ToIntE(raw); err != nil {
			return badRequest(c, "game_steps must be an integer")
		}
	}
	if req.Replay, err = formFile(form, "replay_file"); err != nil {
		return respondError(c, err)
	}

	for i, prefix := range []string{"bot1_", "bot2_"} {
		sub := &req.Participants[i]
		if raw := formValue(form, prefix+"avg_step_time"); raw != "" {
			v, err := cast.ToFloat64E(raw)
			if err != nil {
				return badRequest(c, prefix+"avg_step_time must be a number")
			}
			sub.AvgStepTime = &v
		}
		if sub.Log, err = formFile(form, prefix+"log"); err != nil {
			return respondError(c, err)
		}
		if sub.Data, err = formFile(form, prefix+"data"); err != nil {
			return respondError(c, err)
		}
		if values, ok := form.Value[prefix+"tags"]; ok {
			sub.Tags = splitTags(values)
		}
	}

	result, err := h.Results.SubmitResult(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// DownloadBotData streams the stored data archive of one participant.
func (h *ArenaClientHandler) DownloadBotData(c *fiber.Ctx) error {
	client := middleware.ArenaClient(c)
	num, err := c.ParamsInt("num")
	if err != nil || (num != 1 && num != 2) {
		return badRequest(c, "participant number must be 1 or 2")
	}

	data, err := h.BotData.Download(c.UserContext(), c.Params("id"), num, client.ID)
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	return c.Send(data)
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func formFile(form *multipart.Form, key string) ([]byte, error) {
	files := form.File[key]
	if len(files) == 0 {
		return nil, nil
	}
	return utils.ReadFormFile(files[0])
}

// splitTags accepts repeated fields as well as comma separated values. An
// empty field yields an empty, non-nil slice.
func splitTags(values []string) []string {
	tags := []string{}
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}
