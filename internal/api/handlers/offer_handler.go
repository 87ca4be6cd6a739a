package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/mealbridge/services/dispatch/internal/model"
	"example.com/mealbridge/services/dispatch/internal/service"
	"example.com/mealbridge/services/dispatch/internal/tracing"
)

// OfferHandler handles donation offer HTTP requests
type OfferHandler struct {
	offers   *service.OfferService
	accounts *service.AccountService
	tracer   tracing.Tracer
}

// NewOfferHandler creates a new offer handler
func NewOfferHandler(offers *service.OfferService, accounts *service.AccountService, tracer tracing.Tracer) *OfferHandler {
	return &OfferHandler{offers: offers, accounts: accounts, tracer: tracer}
}

// PositionRequest carries a live agent position report
type PositionRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HandleCreate lists a new donation offer
func (h *OfferHandler) HandleCreate(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-offer")
	defer h.tracer.EndTransaction(txn)

	var req service.CreateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Invalid offer request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	offer, err := h.offers.Create(c, identityFrom(c), &req)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, offer)
}

// HandlePending returns the claimable pool, optionally proximity filtered
func (h *OfferHandler) HandlePending(c *gin.Context) {
	origin, radius, err := proximityQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ranked, err := h.offers.ListOpenOffers(c, identityFrom(c), origin, radius)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"offers": ranked, "count": len(ranked)})
}

// HandleMine returns the donor's own offers
func (h *OfferHandler) HandleMine(c *gin.Context) {
	status, err := statusQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	offers, err := h.offers.ListDonorOffers(c, identityFrom(c), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers, "count": len(offers)})
}

// HandleMyClaimed returns the offers the agent has claimed
func (h *OfferHandler) HandleMyClaimed(c *gin.Context) {
	status, err := statusQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	offers, err := h.offers.ListAgentOffers(c, identityFrom(c), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers, "count": len(offers)})
}

// HandleSearch runs a fuzzy item search over the indexed open pool
func (h *OfferHandler) HandleSearch(c *gin.Context) {
	size := 0
	if raw := c.Query("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "size must be an integer"})
			return
		}
		size = parsed
	}

	hits, err := h.offers.SearchOpenOffers(c, identityFrom(c), c.Query("q"), size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": hits, "count": len(hits)})
}

// HandleGet returns a single offer with live tracking data when available
func (h *OfferHandler) HandleGet(c *gin.Context) {
	detail, err := h.offers.Get(c, identityFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// HandleWithdraw removes a pending offer
func (h *OfferHandler) HandleWithdraw(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-withdraw-offer")
	defer h.tracer.EndTransaction(txn)

	if err := h.offers.Withdraw(c, identityFrom(c), c.Param("id")); err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "offer withdrawn"})
}

// HandleClaim claims a pending offer for the calling agent
func (h *OfferHandler) HandleClaim(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-claim-offer")
	defer h.tracer.EndTransaction(txn)
	h.tracer.AddAttribute(txn, "offer_id", c.Param("id"))

	offer, err := h.offers.Claim(c, identityFrom(c), c.Param("id"))
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

// HandlePosition ingests a live position report from the claiming agent
func (h *OfferHandler) HandlePosition(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	detail, err := h.offers.ReportPosition(c, identityFrom(c), c.Param("id"), model.Coordinate{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// HandleCollected marks the donation as picked up
func (h *OfferHandler) HandleCollected(c *gin.Context) {
	offer, err := h.offers.MarkCollected(c, identityFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

// HandleCompleted finishes a collected pickup
func (h *OfferHandler) HandleCompleted(c *gin.Context) {
	offer, err := h.offers.MarkCompleted(c, identityFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

// HandleAgents returns the agent directory for donors
func (h *OfferHandler) HandleAgents(c *gin.Context) {
	origin, radius, err := proximityQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agents, err := h.accounts.ListAgents(c, identityFrom(c), origin, radius)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
}

// proximityQuery parses the optional lat/lng/radius query triple
func proximityQuery(c *gin.Context) (*model.Coordinate, *float64, error) {
	latRaw, lngRaw := c.Query("lat"), c.Query("lng")
	if (latRaw == "") != (lngRaw == "") {
		return nil, nil, errors.New("lat and lng must be supplied together")
	}

	var origin *model.Coordinate
	if latRaw != "" {
		lat, err := strconv.ParseFloat(latRaw, 64)
		if err != nil {
			return nil, nil, errors.New("lat must be a number")
		}
		lng, err := strconv.ParseFloat(lngRaw, 64)
		if err != nil {
			return nil, nil, errors.New("lng must be a number")
		}
		origin = &model.Coordinate{Lat: lat, Lng: lng}
	}

	var radius *float64
	if raw := c.Query("radius"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, nil, errors.New("radius must be a number")
		}
		radius = &r
	}

	return origin, radius, nil
}

// statusQuery parses the optional status filter
func statusQuery(c *gin.Context) (*model.OfferStatus, error) {
	raw := c.Query("status")
	if raw == "" {
		return nil, nil
	}
	status, ok := model.StatusFromString(raw)
	if !ok {
		return nil, errors.New("unknown status")
	}
	return &status, nil
}

// RegisterRoutes registers the handler's routes. The pending pool is
// browsable without an account; everything else requires one.
func (h *OfferHandler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.GET("/donations/pending", h.HandlePending)

	protected.POST("/donations", h.HandleCreate)
	protected.GET("/donations/my", h.HandleMine)
	protected.GET("/donations/my-claimed", h.HandleMyClaimed)
	protected.GET("/donations/search", h.HandleSearch)
	protected.GET("/donations/:id", h.HandleGet)
	protected.DELETE("/donations/:id", h.HandleWithdraw)
	protected.POST("/donations/:id/claim", h.HandleClaim)
	protected.POST("/donations/:id/location", h.HandlePosition)
	protected.POST("/donations/:id/collected", h.HandleCollected)
	protected.POST("/donations/:id/completed", h.HandleCompleted)
	protected.GET("/agents", h.HandleAgents)
}
