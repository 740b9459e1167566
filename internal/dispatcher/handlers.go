package dispatcher

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"gazette-pipeline/internal/model"
)

func rootHandler(c *fiber.Ctx) error {
	d := c.Locals("dispatcher").(*Dispatcher)
	return c.Status(fiber.StatusOK).JSON(RootResponse{
		Service:            "gazette-pipeline",
		Version:            "1.0.0",
		CrawlersRegistered: d.crawlers.Count(),
		Handlers:           []string{"/crawl", "/crawl/today-yesterday", "/crawl/cities", "/spiders", "/stats", "/health/queue"},
	})
}

func crawlHandler(c *fiber.Ctx) error {
	d := c.Locals("dispatcher").(*Dispatcher)

	var req CrawlRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed JSON body")
	}
	if req.Cities == nil {
		return badRequest(c, "missing required field 'cities'")
	}

	result, err := d.Submit(c.Context(), jobTypeFor(req.Cities), req.Cities, req.StartDate, req.EndDate, "")
	return respondSubmit(c, result, err)
}

func crawlCitiesHandler(c *fiber.Ctx) error {
	d := c.Locals("dispatcher").(*Dispatcher)

	var req CrawlRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed JSON body")
	}
	if req.Cities == nil {
		return badRequest(c, "missing required field 'cities'")
	}

	result, err := d.Submit(c.Context(), model.CrawlJobCities, req.Cities, req.StartDate, req.EndDate, "")
	return respondSubmit(c, result, err)
}

func crawlTodayYesterdayHandler(c *fiber.Ctx) error {
	d := c.Locals("dispatcher").(*Dispatcher)

	var req TodayYesterdayRequest
	_ = c.BodyParser(&req)

	result, start, end, err := d.TodayYesterday(c.Context(), req.Platform)
	if err != nil {
		return respondSubmit(c, result, err)
	}

	resp := submitResponse(result, nil)
	resp.DateRange = &dateRange{Start: start, End: end}
	resp.EstimatedTimeMins = estimateMinutes(result.TasksEnqueued)
	return c.Status(fiber.StatusOK).JSON(resp)
}

func spidersHandler(c *fiber.Ctx) error {
	d := c.Locals("dispatcher").(*Dispatcher)
	return c.Status(fiber.StatusOK).JSON(d.Spiders(c.Query("type")))
}

func statsHandler(c *fiber.Ctx) error {
	d := c.Locals("dispatcher").(*Dispatcher)
	return c.Status(fiber.StatusOK).JSON(d.Stats())
}

func queueHealthHandler(c *fiber.Ctx) error {
	d := c.Locals("dispatcher").(*Dispatcher)
	return c.Status(fiber.StatusOK).JSON(d.QueueHealth(c.Context()))
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(CrawlResponse{
		Success: false,
		Code:    "BAD_REQUEST",
		Error:   msg,
		Cities:  []string{},
	})
}

func jobTypeFor(cities any) model.CrawlJobType {
	if s, ok := cities.(string); ok && s == "all" {
		return model.CrawlJobScheduled
	}
	return model.CrawlJobManual
}

func submitResponse(result SubmitResult, err error) CrawlResponse {
	resp := CrawlResponse{
		Success:       err == nil,
		TasksEnqueued: result.TasksEnqueued,
		Cities:        result.Cities,
		CrawlJobID:    result.CrawlJobID,
		FailedCount:   result.FailedCount,
	}
	if resp.Cities == nil {
		resp.Cities = []string{}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// respondSubmit maps a Submit outcome to the HTTP semantics of spec §6:
// 200 all enqueued, 207 partial, 400 no valid cities, 500 total failure.
func respondSubmit(c *fiber.Ctx, result SubmitResult, err error) error {
	if errors.Is(err, ErrNoValidCities) {
		return badRequest(c, "no valid cities to crawl")
	}
	resp := submitResponse(result, err)
	switch {
	case err != nil:
		resp.Code = "CRAWL_SUBMIT_FAILED"
		return c.Status(fiber.StatusInternalServerError).JSON(resp)
	case result.FailedCount > 0:
		return c.Status(fiber.StatusMultiStatus).JSON(resp)
	default:
		return c.Status(fiber.StatusOK).JSON(resp)
	}
}

func estimateMinutes(tasks int) float64 {
	// Rough per-city crawl budget; purely informational for callers
	// deciding how long to wait before polling /health/queue.
	const perCitySeconds = 8.0
	return float64(tasks) * perCitySeconds / 60.0
}
