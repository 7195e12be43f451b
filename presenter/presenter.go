package presenter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/omni/bridge-core/bridge"
	"github.com/omni/bridge-core/db"
	"github.com/omni/bridge-core/entity"
	"github.com/omni/bridge-core/logging"
	custommiddleware "github.com/omni/bridge-core/presenter/http/middleware"
	"github.com/omni/bridge-core/presenter/http/render"
)

// Presenter exposes the core transfer API consumed by the routing layer.
type Presenter struct {
	logger  logging.Logger
	service *bridge.Service
	root    chi.Router
}

func NewPresenter(logger logging.Logger, service *bridge.Service) *Presenter {
	p := &Presenter{
		logger:  logger,
		service: service,
		root:    chi.NewMux(),
	}
	p.root.Use(middleware.Throttle(100))
	p.root.Use(middleware.RequestID)
	p.root.Use(custommiddleware.NewLoggerMiddleware(logger))
	p.root.Use(custommiddleware.Recoverer)
	p.root.Route("/bridge", func(r chi.Router) {
		r.Post("/estimate", p.Estimate)
		r.Post("/transfers", p.Initiate)
		r.Get("/transfers", p.ListHistory)
		r.Get("/transfers/{txID}", p.GetStatus)
		r.Post("/transfers/{txID}/cancel", p.Cancel)
	})
	return p
}

func (p *Presenter) Serve(addr string) error {
	p.logger.WithField("addr", addr).Info("starting presenter service")
	return http.ListenAndServe(addr, p.root)
}

func (p *Presenter) Estimate(w http.ResponseWriter, r *http.Request) {
	req := new(EstimateRequest)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		render.JSON(w, r, http.StatusBadRequest, &ErrorResponse{Error: "invalid request body"})
		return
	}
	quote, err := p.service.Estimate(r.Context(), req.Route(), req.Amount)
	if err != nil {
		p.renderError(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusOK, quote)
}

func (p *Presenter) Initiate(w http.ResponseWriter, r *http.Request) {
	req := new(InitiateRequest)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		render.JSON(w, r, http.StatusBadRequest, &ErrorResponse{Error: "invalid request body"})
		return
	}
	tx, err := p.service.Initiate(r.Context(), req.Route(), req.Amount, req.FromAddress, req.ToAddress)
	if err != nil {
		p.renderError(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusCreated, tx)
}

func (p *Presenter) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "txID"))
	if err != nil {
		render.JSON(w, r, http.StatusBadRequest, &ErrorResponse{Error: "invalid transaction id"})
		return
	}
	tx, err := p.service.GetStatus(r.Context(), id)
	if err != nil {
		p.renderError(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusOK, tx)
}

func (p *Presenter) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "txID"))
	if err != nil {
		render.JSON(w, r, http.StatusBadRequest, &ErrorResponse{Error: "invalid transaction id"})
		return
	}
	tx, err := p.service.Cancel(r.Context(), id)
	if err != nil {
		p.renderError(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusOK, tx)
}

func (p *Presenter) ListHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := new(entity.BridgeTransactionsFilter)
	if v := query.Get("from_address"); v != "" {
		filter.FromAddress = &v
	}
	if v := query.Get("status"); v != "" {
		status := entity.Status(v)
		filter.Status = &status
	}
	if v := query.Get("source_chain"); v != "" {
		filter.SourceChain = &v
	}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			render.JSON(w, r, http.StatusBadRequest, &ErrorResponse{Error: "invalid limit"})
			return
		}
		filter.Limit = uint(limit)
	}
	if v := query.Get("offset"); v != "" {
		offset, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			render.JSON(w, r, http.StatusBadRequest, &ErrorResponse{Error: "invalid offset"})
			return
		}
		filter.Offset = uint(offset)
	}
	txs, err := p.service.ListHistory(r.Context(), filter)
	if err != nil {
		p.renderError(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusOK, txs)
}

func (p *Presenter) renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, bridge.ErrUnsupportedRoute),
		errors.Is(err, bridge.ErrInvalidAmount),
		errors.Is(err, bridge.ErrInvalidAddress):
		render.JSON(w, r, http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
	case errors.Is(err, bridge.ErrNotCancellable):
		render.JSON(w, r, http.StatusConflict, &ErrorResponse{Error: err.Error()})
	case errors.Is(err, db.ErrNotFound):
		render.JSON(w, r, http.StatusNotFound, &ErrorResponse{Error: "transaction not found"})
	default:
		render.Error(w, r, err)
	}
}
