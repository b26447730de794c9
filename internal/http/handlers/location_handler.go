// README: Location handlers: rider position feed, going offline and nearby lookup.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/location"
	"dispatch/internal/types"
)

const defaultNearbyRadiusKm = 3.0

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationReq struct {
	Name string   `json:"name"`
	Lat  *float64 `json:"lat" binding:"required"`
	Lng  *float64 `json:"lng" binding:"required"`
}

// Update stores the caller's position. Only the authenticated rider may move themselves.
func (h *LocationHandler) Update(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	accepted, err := h.location.Update(c.Request.Context(), types.ID(middleware.CallerUID(c)), req.Name, *req.Lat, *req.Lng)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"accepted": accepted})
}

func (h *LocationHandler) Remove(c *gin.Context) {
	if err := h.location.Remove(c.Request.Context(), types.ID(middleware.CallerUID(c))); err != nil {
		writeOrderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Nearby lists online riders around ?lat=&lng= within ?radius_km= (default 3).
func (h *LocationHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius := defaultNearbyRadiusKm
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid radius_km")
			return
		}
		radius = r
	}
	riders, err := h.location.NearbyRiders(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	out := make([]gin.H, 0, len(riders))
	for _, r := range riders {
		out = append(out, gin.H{
			"rider":      toRiderPositionDTO(r.Position),
			"distanceKm": r.DistanceKm,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"riders": out})
}
