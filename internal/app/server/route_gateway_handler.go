package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vpngw/internal/api/dto"
	"vpngw/internal/domain"
	"vpngw/internal/ippool"
	"vpngw/internal/provisioning"
	"vpngw/internal/saga"

	"github.com/charmbracelet/log"
)

type gatewayHandlers struct {
	service GatewayService
}

func (h *gatewayHandlers) createGateway(w http.ResponseWriter, r *http.Request) {
	var req dto.GatewayCreateRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	gateway, err := h.service.CreateGateway(r.Context(), req.CommonName, req.IPAddress)
	if err != nil {
		respondWithError(w, "create gateway", err)
		return
	}

	writeJSON(w, http.StatusCreated, gatewayResponse(*gateway))
}

func (h *gatewayHandlers) getGateway(w http.ResponseWriter, r *http.Request) {
	gateway, err := h.service.GetGateway(r.Context(), r.PathValue("commonName"))
	if err != nil {
		respondWithError(w, "get gateway", err)
		return
	}

	writeJSON(w, http.StatusOK, gatewayResponse(*gateway))
}

func (h *gatewayHandlers) listGateways(w http.ResponseWriter, r *http.Request) {
	gateways, err := h.service.ListGateways(r.Context())
	if err != nil {
		respondWithError(w, "list gateways", err)
		return
	}

	summaries := make([]dto.GatewaySummary, 0, len(gateways))
	for _, gateway := range gateways {
		summaries = append(summaries, dto.GatewaySummary{
			CommonName:     gateway.CommonName,
			IPAddress:      gateway.IP(),
			HasCertificate: gateway.HasCertificate(),
			CreatedAt:      gateway.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *gatewayHandlers) deleteGateway(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteGateway(r.Context(), r.PathValue("commonName")); err != nil {
		respondWithError(w, "delete gateway", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *gatewayHandlers) getGatewayConfig(w http.ResponseWriter, r *http.Request) {
	commonName := r.PathValue("commonName")
	profile, err := h.service.GetGatewayConfig(r.Context(), commonName)
	if err != nil {
		respondWithError(w, "get gateway config", err)
		return
	}

	w.Header().Set("Content-Type", "application/x-openvpn-profile")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", strings.TrimSpace(commonName)+".ovpn"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(profile))
}

func (h *gatewayHandlers) getPool(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.PoolStatus())
}

func (h *gatewayHandlers) reconcilePool(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Reconcile(r.Context())
	if err != nil {
		respondWithError(w, "reconcile pool", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func gatewayResponse(gateway domain.Gateway) dto.Gateway {
	return dto.Gateway{
		CommonName:  gateway.CommonName,
		IPAddress:   gateway.IP(),
		Certificate: gateway.CertificatePEM(),
		PrivateKey:  gateway.PrivateKeyPEM(),
		CreatedAt:   gateway.CreatedAt,
	}
}

// statusFor maps provisioning errors to HTTP status codes. Rollback and
// consistency failures are checked first since they wrap the step cause.
func statusFor(err error) int {
	switch {
	case errors.Is(err, saga.ErrRollbackFailed),
		errors.Is(err, provisioning.ErrInconsistentState):
		return http.StatusInternalServerError
	case errors.Is(err, provisioning.ErrCommonNameBlank),
		errors.Is(err, ippool.ErrIPNotWithinPool):
		return http.StatusBadRequest
	case errors.Is(err, provisioning.ErrCommonNameNotUnique),
		errors.Is(err, ippool.ErrIPAlreadyAssigned),
		errors.Is(err, ippool.ErrPoolExhausted):
		return http.StatusConflict
	case errors.Is(err, provisioning.ErrNotFound),
		errors.Is(err, ippool.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, provisioning.ErrIssuerFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(w http.ResponseWriter, operation string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "operation", operation, "status", status, "error", err)
	} else {
		log.Debug("Request rejected", "operation", operation, "status", status, "error", err)
	}
	writeError(w, err.Error(), status)
}
