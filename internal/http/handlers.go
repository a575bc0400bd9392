package http

import (
	"context"
	"net/http"
	"time"

	"cpiweights/internal/core"
	applog "cpiweights/internal/log"
)

type weightRow struct {
	Category string  `json:"category"`
	Value    float64 `json:"value"`
}

type coveragePayload struct {
	Month   string   `json:"month"`
	Total   float64  `json:"total"`
	Delta   float64  `json:"delta"`
	Skipped []string `json:"skipped"`
	OK      bool     `json:"ok"`
}

type monthWeightsPayload struct {
	Month      string          `json:"month"`
	AnchorYear int             `json:"anchor_year"`
	Weights    []weightRow     `json:"weights"`
	Coverage   coveragePayload `json:"coverage"`
}

func (s *Server) toCoveragePayload(cov core.Coverage) coveragePayload {
	skipped := cov.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	return coveragePayload{
		Month:   cov.Month.String(),
		Total:   cov.Total,
		Delta:   cov.Delta(),
		Skipped: skipped,
		OK:      cov.Within(s.tolerance),
	}
}

func (s *Server) toMonthWeightsPayload(mw core.MonthWeights) monthWeightsPayload {
	rows := make([]weightRow, 0, len(mw.Weights))
	for _, w := range mw.Weights {
		rows = append(rows, weightRow{Category: w.Category, Value: w.Value})
	}
	return monthWeightsPayload{
		Month:      mw.Month.String(),
		AnchorYear: mw.Month.AnchorYear(),
		Weights:    rows,
		Coverage:   s.toCoveragePayload(mw.Coverage),
	}
}

// handleWeights serves GET /weights?month=YYYY-MM.
func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	m, err := monthParam(r, "month")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mw, err := s.monthWeights(r.Context(), m)
	if err != nil {
		status := statusForError(err)
		if status >= 500 {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Month weights error",
				applog.FieldError, err.Error(), applog.FieldMonth, m.String())
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.toMonthWeightsPayload(mw))
}

type rangePayload struct {
	From   string                `json:"from"`
	To     string                `json:"to"`
	Months []monthWeightsPayload `json:"months"`
}

// handleWeightsRange serves GET /weights/range?from=YYYY-MM&to=YYYY-MM.
func (s *Server) handleWeightsRange(w http.ResponseWriter, r *http.Request) {
	from, err := monthParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := monthParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "'to' must not precede 'from'")
		return
	}
	months := core.MonthRange(from, to)
	if len(months) > maxRangeMonths {
		writeError(w, http.StatusBadRequest, "range too large")
		return
	}

	cctx, cancel := context.WithTimeout(r.Context(), computeTimeout)
	defer cancel()
	results, err := s.recomputer.RecomputeRange(cctx, from, to)
	if err != nil {
		status := statusForError(err)
		if status >= 500 {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Range recompute error",
				applog.FieldError, err.Error(), "from", from.String(), "to", to.String())
		}
		writeError(w, status, err.Error())
		return
	}

	payload := rangePayload{From: from.String(), To: to.String()}
	for _, mw := range results {
		s.weightsCache.Set(mw.Month.String(), mw)
		payload.Months = append(payload.Months, s.toMonthWeightsPayload(mw))
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleCoverage serves GET /coverage?month=YYYY-MM.
func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	m, err := monthParam(r, "month")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mw, err := s.monthWeights(r.Context(), m)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.toCoveragePayload(mw.Coverage))
}

type groupRow struct {
	Category string `json:"category"`
	Group    string `json:"group"`
}

// handleCategories serves GET /categories.
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	groups, found := s.groupsCache.Get("groups")
	if !found {
		var err error
		groups, err = s.backend.ReadGroups(r.Context())
		if err != nil {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Read groups error",
				applog.FieldError, err.Error())
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.groupsCache.Set("groups", groups)
	}

	rows := make([]groupRow, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, groupRow{Category: g.Category, Group: g.Group})
	}
	writeJSON(w, http.StatusOK, rows)
}

type observationRow struct {
	Month string  `json:"month"`
	Value float64 `json:"value"`
}

type rebasedSeriesPayload struct {
	Category     string           `json:"category"`
	Base         string           `json:"base"`
	Observations []observationRow `json:"observations"`
}

// handleRebasedSeries serves GET /series/rebased?category=&base=YYYY-MM.
// Optional from/to bound the returned window; they default to the base month
// and the current month.
func (s *Server) handleRebasedSeries(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		writeError(w, http.StatusBadRequest, "missing \"category\" parameter")
		return
	}
	base, err := monthParam(r, "base")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	from, err := optionalMonthParam(r, "from", base)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := optionalMonthParam(r, "to", core.NewMonth(now.Year(), now.Month()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "'to' must not precede 'from'")
		return
	}
	// The base observation must be in the window for rebasing to work.
	if base.Before(from) {
		from = base
	}
	if to.Before(base) {
		to = base
	}

	all, err := s.backend.ReadSeries(r.Context(), from, to)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Read series error",
			applog.FieldError, err.Error(), applog.FieldCategory, category)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var series []core.Observation
	for _, o := range all {
		if o.Category == category {
			series = append(series, o)
		}
	}
	if len(series) == 0 {
		writeError(w, http.StatusNotFound, "no observations for category")
		return
	}

	rebased, err := core.Rebase(series, base)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	payload := rebasedSeriesPayload{Category: category, Base: base.String()}
	for _, o := range rebased {
		payload.Observations = append(payload.Observations, observationRow{
			Month: o.Month.String(),
			Value: o.Value,
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

type createObservationRequest struct {
	Category string  `json:"category"`
	Month    string  `json:"month"`
	Value    float64 `json:"value"`
}

type createdPayload struct {
	Ref string `json:"ref"`
}

// handleCreateObservation serves POST /observations. The backend schedules
// the recomputes the new row invalidates; here only the response cache needs
// flushing.
func (s *Server) handleCreateObservation(w http.ResponseWriter, r *http.Request) {
	var req createObservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := core.ParseMonth(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o := core.Observation{Category: req.Category, Month: m, Value: req.Value}
	if err := o.Validate(); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	ref, err := s.backend.AppendObservation(r.Context(), o)
	if err != nil {
		status := statusForError(err)
		if status >= 500 {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Observation append error",
				applog.FieldError, err.Error(), applog.FieldCategory, o.Category, applog.FieldMonth, m.String())
		}
		writeError(w, status, err.Error())
		return
	}

	s.logs.LogObservationAppended(r.Context(), o.Category, m.String(), o.Value, ref)
	s.invalidateMonths(observationDependents(m))
	writeJSON(w, http.StatusCreated, createdPayload{Ref: ref})
}

type createAnchorRequest struct {
	Category string  `json:"category"`
	Year     int     `json:"year"`
	Value    float64 `json:"value"`
}

// handleCreateAnchor serves POST /anchors.
func (s *Server) handleCreateAnchor(w http.ResponseWriter, r *http.Request) {
	var req createAnchorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a := core.AnchorWeight{Category: req.Category, Year: req.Year, Value: req.Value}
	if err := a.Validate(); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	ref, err := s.backend.AppendAnchor(r.Context(), a)
	if err != nil {
		status := statusForError(err)
		if status >= 500 {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Anchor append error",
				applog.FieldError, err.Error(), applog.FieldCategory, a.Category, applog.FieldYear, a.Year)
		}
		writeError(w, status, err.Error())
		return
	}

	s.invalidateMonths(anchorDependents(a.Year))
	writeJSON(w, http.StatusCreated, createdPayload{Ref: ref})
}

// observationDependents lists the months whose cached weights a new
// observation at m can change: m itself, plus the eleven months propagated
// from m when m is a December base.
func observationDependents(m core.Month) []core.Month {
	months := []core.Month{m}
	if m.IsAnchor() {
		months = append(months, core.MonthRange(m.Next(), core.NewMonth(m.Year+1, time.November))...)
	}
	return months
}

// anchorDependents lists the months governed by the December anchor of year.
func anchorDependents(year int) []core.Month {
	return core.MonthRange(
		core.NewMonth(year, time.December),
		core.NewMonth(year+1, time.November),
	)
}
