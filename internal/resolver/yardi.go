package resolver

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"lead-status-sync/internal/models"
)

// Yardi resolves raw Yardi SOAP payloads into status records. One resolver is
// built per (source config, execution) pair.
type Yardi struct {
	sourceConfigID int64
	executionID    string
	log            *logrus.Entry
}

// NewYardi constructs a resolver stamped with the producing config and run.
func NewYardi(sourceConfigID int64, executionID string, log *logrus.Entry) *Yardi {
	return &Yardi{
		sourceConfigID: sourceConfigID,
		executionID:    executionID,
		log:            log,
	}
}

// Resolve converts the raw feed mapping into at most one status record per
// lead. Malformed payloads are reported as parse errors and skipped; they
// never abort the rest of the batch.
func (y *Yardi) Resolve(raw models.RawFeeds) ([]models.StatusRecord, []ParseError) {
	var (
		records   []models.StatusRecord
		parseErrs []ParseError
	)

	// Fixed feed order so the tie-break in Collapse is deterministic.
	for _, feed := range []string{models.FeedTourActivity, models.FeedMoveIn, models.FeedLeadStatus} {
		props := raw[feed]
		for _, propertyID := range sortedKeys(props) {
			var (
				parsed []models.StatusRecord
				err    error
			)
			switch feed {
			case models.FeedTourActivity:
				parsed, err = y.parseTourActivity(props[propertyID], propertyID)
			case models.FeedMoveIn:
				parsed, err = y.parseMoveInEvents(props[propertyID], propertyID)
			case models.FeedLeadStatus:
				parsed, err = y.parseLeadStatusChange(props[propertyID], propertyID)
			}
			if err != nil {
				pe := ParseError{Feed: feed, PropertyID: propertyID, Err: err}
				y.log.WithFields(logrus.Fields{"feed": feed, "property_id": propertyID}).
					WithError(err).Error("skipping malformed payload")
				parseErrs = append(parseErrs, pe)
				continue
			}
			records = append(records, parsed...)
		}
	}

	return Collapse(records), parseErrs
}

type yardiActivity struct {
	ActivityType       string `xml:"ActivityType"`
	ActivityResultType string `xml:"ActivityResultType"`
	ActivityResultDate string `xml:"ActivityResultDate"`
	ActivityStartDate  string `xml:"ActivityStartDate"`
	ActivityStartTime  string `xml:"ActivityStartTime"`
}

type yardiProspect struct {
	ExtReference string          `xml:"ExtReference"`
	Activities   []yardiActivity `xml:"Activities>Activity"`
}

type yardiResident struct {
	ExtReference      string `xml:"ExtReference"`
	EventType         string `xml:"EventType"`
	ResidentEventDate string `xml:"ResidentEventDate"`
}

// latest returns the activity to evaluate. Yardi orders activities newest
// first in its responses.
func (p yardiProspect) latest() (yardiActivity, bool) {
	if len(p.Activities) == 0 {
		return yardiActivity{}, false
	}
	return p.Activities[0], true
}

func (y *Yardi) parseTourActivity(payload []byte, propertyID string) ([]models.StatusRecord, error) {
	var records []models.StatusRecord
	err := forEachElement(payload, "Prospect", func(d *xml.Decoder, se xml.StartElement) error {
		var p yardiProspect
		if err := d.DecodeElement(&p, &se); err != nil {
			return err
		}
		activity, ok := p.latest()
		if p.ExtReference == "" || !ok {
			return nil
		}

		var status, notes string
		if strings.Contains(strings.ToLower(activity.ActivityResultType), "completed") {
			status = models.StatusTourCompleted
			notes = fmt.Sprintf("Tour completed on %s with result '%s' and type '%s' for property ID %s.",
				activity.ActivityResultDate, activity.ActivityResultType, activity.ActivityType, propertyID)
		} else {
			status = models.StatusTourScheduled
			notes = fmt.Sprintf("Tour scheduled on %s %s with type '%s' for property ID %s.",
				activity.ActivityStartDate, activity.ActivityStartTime, activity.ActivityType, propertyID)
		}
		records = append(records, y.record(p.ExtReference, status, models.SubStatusNone, notes))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (y *Yardi) parseMoveInEvents(payload []byte, propertyID string) ([]models.StatusRecord, error) {
	var records []models.StatusRecord
	err := forEachElement(payload, "Resident", func(d *xml.Decoder, se xml.StartElement) error {
		var r yardiResident
		if err := d.DecodeElement(&r, &se); err != nil {
			return err
		}
		if r.ExtReference == "" || r.EventType != "Move In" {
			return nil
		}
		notes := fmt.Sprintf("Prospect Moved In on %s for property ID %s", r.ResidentEventDate, propertyID)
		records = append(records, y.record(r.ExtReference, models.StatusMoveInCommitment, models.SubStatusNone, notes))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (y *Yardi) parseLeadStatusChange(payload []byte, propertyID string) ([]models.StatusRecord, error) {
	var records []models.StatusRecord
	err := forEachElement(payload, "Prospect", func(d *xml.Decoder, se xml.StartElement) error {
		var p yardiProspect
		if err := d.DecodeElement(&p, &se); err != nil {
			return err
		}
		activity, ok := p.latest()
		if p.ExtReference == "" || !ok || activity.ActivityResultType != "Activate" {
			return nil
		}
		notes := fmt.Sprintf("Lead status changed to '%s' on %s for property ID %s",
			activity.ActivityResultType, activity.ActivityResultDate, propertyID)
		records = append(records, y.record(p.ExtReference, models.StatusValidLead, models.SubStatusTimeframe30, notes))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (y *Yardi) record(leadID, status, subStatus, notes string) models.StatusRecord {
	notes = models.Truncate(notes, models.NotesMaxLen)
	return models.StatusRecord{
		ExecutionID:    y.executionID,
		SourceConfigID: y.sourceConfigID,
		LeadID:         leadID,
		Status:         status,
		SubStatus:      subStatus,
		Notes:          notes,
		Payload: map[string]any{
			"lead_id":    leadID,
			"status":     status,
			"sub_status": subStatus,
			"notes":      notes,
		},
	}
}

// forEachElement walks a document and invokes fn for every element with the
// given local name, regardless of nesting depth or namespace. SOAP responses
// bury the interesting elements under envelope wrappers we do not care about.
func forEachElement(payload []byte, local string, fn func(d *xml.Decoder, se xml.StartElement) error) error {
	d := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read xml token: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != local {
			continue
		}
		if err := fn(d, se); err != nil {
			return fmt.Errorf("decode %s element: %w", local, err)
		}
	}
}
