package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/diwise/field-sync/pkg/jsonapi/errors"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// maxPages bounds how many next links are followed for one collection request
const maxPages int = 100

// fetchCollection reads a collection, following next links unless the caller
// asked for an explicit page.
func (c *jsonapiClient) fetchCollection(ctx context.Context, endpoint string, parameters ...RequestDecoratorFunc) ([]*records.Record, error) {
	logger := logging.GetFromContext(ctx)

	params := make([]string, 0, 5)
	for _, rdf := range parameters {
		params = rdf(params)
	}

	explicitPage := false
	for _, p := range params {
		if strings.HasPrefix(p, "page%5B") || strings.HasPrefix(p, "page[") {
			explicitPage = true
		}
	}

	url := endpoint
	if len(params) > 0 {
		url += "?" + strings.Join(params, "&")
	}

	result := []*records.Record{}

	for page := 0; page < maxPages && url != ""; page++ {
		logger.Debug("calling remote", "url", url)

		resp, respBody, err := c.callRemote(ctx, http.MethodGet, url, nil, nil)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			return nil, errors.NewErrorFromResponse(resp.StatusCode, respBody)
		}

		doc := document{}
		if err = json.Unmarshal(respBody, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %s (%w)", err.Error(), errors.ErrBadResponse)
		}

		batch := []*records.Record{}
		if len(doc.Data) > 0 && string(doc.Data) != "null" {
			if strings.HasPrefix(strings.TrimSpace(string(doc.Data)), "{") {
				r := &records.Record{}
				if err = json.Unmarshal(doc.Data, r); err != nil {
					return nil, fmt.Errorf("failed to unmarshal record: %s (%w)", err.Error(), errors.ErrBadResponse)
				}
				batch = append(batch, r)
			} else if err = json.Unmarshal(doc.Data, &batch); err != nil {
				return nil, fmt.Errorf("failed to unmarshal records: %s (%w)", err.Error(), errors.ErrBadResponse)
			}
		}

		result = append(result, batch...)

		url = ""
		if !explicitPage && doc.Links.Next != nil {
			url = doc.Links.Next.Href
		}
	}

	return result, nil
}
