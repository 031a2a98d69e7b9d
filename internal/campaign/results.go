package campaign

import "time"

// Credentials is the pair a target typed into the simulated form.
// Stored verbatim so the owning operator can show it in the debrief.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ClickDetail is the most recent click seen for a target
type ClickDetail struct {
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
}

// SubmissionDetail is the most recent submission seen for a target
type SubmissionDetail struct {
	Timestamp   time.Time   `json:"timestamp"`
	IP          string      `json:"ip"`
	Credentials Credentials `json:"credentials"`
}

// Results is the aggregation state embedded in a campaign.
// Unique counts are not stored; see UniqueClicks and UniqueSubmissions.
type Results struct {
	TotalSent         int64                       `json:"total_sent"`
	Clicks            int64                       `json:"clicks"`
	Submissions       int64                       `json:"submissions"`
	ClickDetails      map[string]ClickDetail      `json:"click_details"`
	SubmissionDetails map[string]SubmissionDetail `json:"submission_details"`
}

// NewResults returns zeroed results with empty detail maps
func NewResults() Results {
	return Results{
		ClickDetails:      make(map[string]ClickDetail),
		SubmissionDetails: make(map[string]SubmissionDetail),
	}
}

// UniqueClicks is the number of distinct targets that clicked
func (r *Results) UniqueClicks() int {
	return len(r.ClickDetails)
}

// UniqueSubmissions is the number of distinct targets that submitted
func (r *Results) UniqueSubmissions() int {
	return len(r.SubmissionDetails)
}

// Clone deep-copies the detail maps
func (r Results) Clone() Results {
	cp := r
	cp.ClickDetails = make(map[string]ClickDetail, len(r.ClickDetails))
	for k, v := range r.ClickDetails {
		cp.ClickDetails[k] = v
	}
	cp.SubmissionDetails = make(map[string]SubmissionDetail, len(r.SubmissionDetails))
	for k, v := range r.SubmissionDetails {
		cp.SubmissionDetails[k] = v
	}
	return cp
}

// ensureMaps repairs documents decoded with null maps
func (r *Results) ensureMaps() {
	if r.ClickDetails == nil {
		r.ClickDetails = make(map[string]ClickDetail)
	}
	if r.SubmissionDetails == nil {
		r.SubmissionDetails = make(map[string]SubmissionDetail)
	}
}

// applyClick counts the click and overwrites the target's detail with the latest one
func (r *Results) applyClick(target string, d ClickDetail) {
	r.ensureMaps()
	r.Clicks++
	r.ClickDetails[target] = d
}

// applySubmission counts the submission and overwrites the target's detail
func (r *Results) applySubmission(target string, d SubmissionDetail) {
	r.ensureMaps()
	r.Submissions++
	r.SubmissionDetails[target] = d
}

// Summary is the dashboard view of the results: raw totals and reach are
// reported side by side and never merged.
type Summary struct {
	TotalSent         int64 `json:"total_sent"`
	Clicks            int64 `json:"clicks"`
	UniqueClicks      int   `json:"unique_clicks"`
	Submissions       int64 `json:"submissions"`
	UniqueSubmissions int   `json:"unique_submissions"`
}

// Summarize computes the summary from live map cardinality
func (r *Results) Summarize() Summary {
	return Summary{
		TotalSent:         r.TotalSent,
		Clicks:            r.Clicks,
		UniqueClicks:      r.UniqueClicks(),
		Submissions:       r.Submissions,
		UniqueSubmissions: r.UniqueSubmissions(),
	}
}
