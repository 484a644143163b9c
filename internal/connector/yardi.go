package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lead-status-sync/internal/models"
)

// Yardi talks to the Yardi senior-living SOAP interface. Each fetch fans out
// over the configured property ids and the three feed endpoints.
type Yardi struct {
	baseURL    string
	namespace  string
	creds      yardiCredentials
	httpClient *http.Client
	log        *logrus.Entry
}

type yardiCredentials struct {
	Username        string   `json:"username"`
	Password        string   `json:"password"`
	ServerName      string   `json:"server_name"`
	Database        string   `json:"database"`
	InterfaceEntity string   `json:"interface_entity"`
	License         string   `json:"license"`
	PropertyIDs     []string `json:"property_ids"`
}

type yardiConfig struct {
	BaseURL     string           `json:"base_url"`
	Namespace   string           `json:"namespace"`
	Credentials yardiCredentials `json:"credentials"`
}

const yardiDateFormat = "2006-01-02T15:04:05"

// NewYardi builds a connector from a source configuration's config document.
func NewYardi(cfg models.SourceConfig, timeout time.Duration, log *logrus.Entry) (*Yardi, error) {
	raw, err := json.Marshal(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal source config: %w", err)
	}
	var yc yardiConfig
	if err := json.Unmarshal(raw, &yc); err != nil {
		return nil, fmt.Errorf("decode yardi config: %w", err)
	}
	if yc.BaseURL == "" || yc.Namespace == "" {
		return nil, errors.New("yardi config requires base_url and namespace")
	}
	if yc.Credentials.Username == "" || yc.Credentials.Password == "" {
		return nil, errors.New("yardi config requires credentials")
	}
	if len(yc.Credentials.PropertyIDs) == 0 {
		return nil, errors.New("yardi config requires at least one property id")
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Yardi{
		baseURL:   yc.BaseURL,
		namespace: yc.Namespace,
		creds:     yc.Credentials,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}, nil
}

// FetchRawData pulls tour activity, move-in events, and lead status changes
// for every configured property. Any single call failing fails the whole
// fetch; the pipeline treats partial provider data as no data.
func (y *Yardi) FetchRawData(ctx context.Context, from, to time.Time) (models.RawFeeds, error) {
	if from.IsZero() || to.IsZero() {
		return nil, errors.New("both from and to dates must be provided")
	}

	raw := models.RawFeeds{
		models.FeedTourActivity: {},
		models.FeedMoveIn:       {},
		models.FeedLeadStatus:   {},
	}

	for _, propertyID := range y.creds.PropertyIDs {
		y.log.WithField("property_id", propertyID).Info("fetching yardi feeds")

		tours, err := y.fetchProspectActivity(ctx, propertyID, "Tours", from, to)
		if err != nil {
			return nil, fmt.Errorf("fetch tour activity for property %s: %w", propertyID, err)
		}
		raw[models.FeedTourActivity][propertyID] = tours

		moveIns, err := y.fetchADTEvents(ctx, propertyID, "Move In", from, to)
		if err != nil {
			return nil, fmt.Errorf("fetch move-in events for property %s: %w", propertyID, err)
		}
		raw[models.FeedMoveIn][propertyID] = moveIns

		statusChanges, err := y.fetchProspectActivity(ctx, propertyID, "Status Change", from, to)
		if err != nil {
			return nil, fmt.Errorf("fetch status changes for property %s: %w", propertyID, err)
		}
		raw[models.FeedLeadStatus][propertyID] = statusChanges
	}

	return raw, nil
}

func (y *Yardi) fetchProspectActivity(ctx context.Context, propertyID, activityCategory string, from, to time.Time) ([]byte, error) {
	body := y.credentialFields(propertyID) + fmt.Sprintf(`
		<ProspectExtReference></ProspectExtReference>
		<FromDate>%s</FromDate>
		<Todate>%s</Todate>
		<SourceName>Caring.com</SourceName>
		<ActivityCategory>%s</ActivityCategory>`,
		from.Format(yardiDateFormat), to.Format(yardiDateFormat), activityCategory)
	return y.send(ctx, "GetSeniorProspectActivity", body)
}

func (y *Yardi) fetchADTEvents(ctx context.Context, propertyID, eventType string, from, to time.Time) ([]byte, error) {
	body := y.credentialFields(propertyID) + fmt.Sprintf(`
		<EventType>%s</EventType>
		<SourceName></SourceName>
		<FromDate>%s</FromDate>
		<Todate>%s</Todate>`,
		eventType, from.Format(yardiDateFormat), to.Format(yardiDateFormat))
	return y.send(ctx, "GetSeniorResidentsADTEvents", body)
}

func (y *Yardi) credentialFields(propertyID string) string {
	return fmt.Sprintf(`
		<UserName>%s</UserName>
		<Password>%s</Password>
		<ServerName>%s</ServerName>
		<Database>%s</Database>
		<Platform>SQL Server</Platform>
		<InterfaceEntity>%s</InterfaceEntity>
		<InterfaceLicense>%s</InterfaceLicense>
		<YardiPropertyId>%s</YardiPropertyId>`,
		y.creds.Username, y.creds.Password, y.creds.ServerName, y.creds.Database,
		y.creds.InterfaceEntity, y.creds.License, propertyID)
}

func (y *Yardi) envelope(method, body string) string {
	return fmt.Sprintf(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <%s xmlns="%s">%s
    </%s>
  </soap:Body>
</soap:Envelope>`, method, y.namespace, body, method)
}

func (y *Yardi) send(ctx context.Context, method, body string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.baseURL,
		strings.NewReader(y.envelope(method, body)))
	if err != nil {
		return nil, fmt.Errorf("build soap request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", fmt.Sprintf("%s/%s", y.namespace, method))

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("soap request %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("soap request %s: status %d", method, resp.StatusCode)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read soap response %s: %w", method, err)
	}
	return payload, nil
}
