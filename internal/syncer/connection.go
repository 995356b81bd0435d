package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/provider"
)

// ConnectionStatus is the outcome of a connectivity probe. Status is the HTTP
// status the provider answered with, or 0 when the request never completed.
type ConnectionStatus struct {
	OK      bool   `json:"ok"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// TestConnection probes the provider with the connector's credentials and
// records the result on the connector row. Probe failures are reported in the
// return value, not raised: an unreachable provider is an answer, not an error.
func (o *Orchestrator) TestConnection(ctx context.Context, connectorID string) (ConnectionStatus, error) {
	conn, err := o.store.GetConnector(ctx, connectorID)
	if err != nil {
		return ConnectionStatus{}, err
	}
	client, err := o.factory.ClientFor(conn)
	if err != nil {
		return ConnectionStatus{Message: err.Error()}, nil
	}

	status := classifyProbe(client.Probe(ctx))

	connStatus := models.ConnectorError
	if status.OK {
		connStatus = models.ConnectorConnected
	}
	if err := o.store.SetConnectorStatus(ctx, connectorID, connStatus); err != nil {
		o.logger.Warnw("failed to record connection test result",
			"connector_id", connectorID, "err", err)
	}
	return status, nil
}

func classifyProbe(err error) ConnectionStatus {
	if err == nil {
		return ConnectionStatus{OK: true, Status: 200, Message: "connection ok"}
	}
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case 401, 403:
			return ConnectionStatus{Status: apiErr.Status, Message: "authentication failed, check the API key"}
		case 404:
			return ConnectionStatus{Status: apiErr.Status, Message: "endpoint not found, check the subdomain"}
		default:
			return ConnectionStatus{Status: apiErr.Status, Message: fmt.Sprintf("provider returned HTTP %d", apiErr.Status)}
		}
	}
	if errors.Is(err, provider.ErrRetriesExhausted) {
		return ConnectionStatus{Message: "provider unreachable after retries"}
	}
	return ConnectionStatus{Message: fmt.Sprintf("network failure: %v", err)}
}
