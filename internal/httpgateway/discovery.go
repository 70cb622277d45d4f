package httpgateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meterly/gateway/internal/chainreg"
	"github.com/meterly/gateway/internal/errors"
	"github.com/meterly/gateway/internal/svcreg"
)

const (
	gatewayName    = "meterly-gateway"
	gatewayVersion = "1.0.0"
)

// health implements GET /health (spec §6): a fixed-shape liveness probe,
// never gated by any payment or rate-limit middleware.
func (a *Assembler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type serviceSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Category    string `json:"category,omitempty"`
}

func summarize(svc svcreg.Service) serviceSummary {
	return serviceSummary{
		ID:          svc.ID,
		DisplayName: svc.DisplayName,
		Description: svc.Description,
		Price:       svc.Price,
		Method:      svc.Method,
		Path:        svc.Path,
		Category:    svc.Category,
	}
}

// apiServices implements GET /api/services (spec §6): the full catalog.
func (a *Assembler) apiServices(w http.ResponseWriter, r *http.Request) {
	services := a.Registry.All()
	out := make([]serviceSummary, 0, len(services))
	for _, svc := range services {
		out = append(out, summarize(svc))
	}
	writeJSON(w, http.StatusOK, out)
}

// apiServiceByID implements GET /api/services/:id (spec §6).
func (a *Assembler) apiServiceByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	svc, ok := a.Registry.Get(id)
	if !ok {
		errors.WriteSimpleError(w, errors.NotFound, "unknown service id")
		return
	}
	writeJSON(w, http.StatusOK, summarize(svc))
}

// wellKnownX402 implements GET /.well-known/x402.json (spec §6): a
// stable-shaped description of every network and priced route this
// gateway advertises, rebuilt by discoveryDoc on every request.
func (a *Assembler) wellKnownX402(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.discoveryDoc())
}

// discoveryDoc builds the .well-known/x402.json body. It is cheap
// enough to compute per-request (a handful of map/slice builds over the
// in-memory catalog) so no separate startup-caching step is needed; the
// shape itself is what spec §6 requires to stay stable, not the timing
// of its construction.
func (a *Assembler) discoveryDoc() map[string]interface{} {
	networks := map[string]interface{}{}
	for _, chain := range chainreg.All() {
		networks[chain.CAIP2] = map[string]interface{}{
			"displayName": chain.DisplayName,
			"stablecoin":  chain.Stablecoin.Symbol,
			"decimals":    chain.Stablecoin.Decimals,
		}
	}

	services := a.Registry.All()
	summaries := make([]serviceSummary, 0, len(services))
	routes := map[string]string{}
	categories := map[string][]string{}
	for _, svc := range services {
		summaries = append(summaries, summarize(svc))
		routes[svc.ID] = svc.Method + " " + svc.Path
		if svc.Category != "" {
			categories[svc.Category] = append(categories[svc.Category], svc.ID)
		}
	}

	return map[string]interface{}{
		"name":        gatewayName,
		"version":     gatewayVersion,
		"x402Version": 2,
		"networks":    networks,
		"services":    summaries,
		"routes":      routes,
		"categories":  categories,
		"hint":        "present a payment-signature or x-payment header on any priced route to skip the 402",
	}
}
