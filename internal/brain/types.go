package brain

import "encoding/json"

// SimulationSettings represents the settings block of a simulation request
type SimulationSettings struct {
	InstrumentType string  `json:"instrumentType"`
	Region         string  `json:"region"`
	Universe       string  `json:"universe"`
	Delay          int     `json:"delay"`
	Decay          int     `json:"decay"`
	Neutralization string  `json:"neutralization"`
	Truncation     float64 `json:"truncation"`
	Pasteurization string  `json:"pasteurization"`
	UnitHandling   string  `json:"unitHandling"`
	NanHandling    string  `json:"nanHandling"`
	Language       string  `json:"language"`
	Visualization  bool    `json:"visualization"`
}

// DefaultSettings returns the simulation settings the worker submits
// unless a template overrides them. Neutralization is set per alpha.
func DefaultSettings(neutralization string) SimulationSettings {
	return SimulationSettings{
		InstrumentType: "EQUITY",
		Region:         "USA",
		Universe:       "TOP3000",
		Delay:          1,
		Decay:          0,
		Neutralization: neutralization,
		Truncation:     0.01,
		Pasteurization: "ON",
		UnitHandling:   "VERIFY",
		NanHandling:    "OFF",
		Language:       "FASTEXPR",
		Visualization:  false,
	}
}

// SimulationRequest represents a single alpha submitted for simulation
type SimulationRequest struct {
	Type     string             `json:"type"`
	Settings SimulationSettings `json:"settings"`
	Regular  string             `json:"regular"`
}

// AuthResponse represents the body of a successful authentication
type AuthResponse struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Token struct {
		// Expiry is the session lifetime in seconds
		Expiry float64 `json:"expiry"`
	} `json:"token"`
	Permissions []string `json:"permissions"`
}

// SimulationProgress represents the body of a progress poll once the
// simulation has finished queueing
type SimulationProgress struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	AlphaID string `json:"alpha"`
	Message string `json:"message"`
}

// Check represents one entry of the in-sample check list
type Check struct {
	Name   string  `json:"name"`
	Result string  `json:"result"`
	Value  float64 `json:"value"`
	Limit  float64 `json:"limit"`
}

// ISMetrics represents the in-sample performance block of an alpha
type ISMetrics struct {
	Fitness  float64 `json:"fitness"`
	Sharpe   float64 `json:"sharpe"`
	Returns  float64 `json:"returns"`
	Turnover float64 `json:"turnover"`
	Margin   float64 `json:"margin"`
	Drawdown float64 `json:"drawdown"`
	Checks   []Check `json:"checks"`
}

// Alpha represents a simulated alpha as returned by /alphas/{id}
type Alpha struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Status   string             `json:"status"`
	Grade    string             `json:"grade"`
	Settings SimulationSettings `json:"settings"`
	Regular  struct {
		Code string `json:"code"`
	} `json:"regular"`
	IS *ISMetrics `json:"is"`

	// Raw carries the untouched response body for CSV persistence
	Raw json.RawMessage `json:"-"`
}

// FailCount returns how many in-sample checks ended in FAIL
func (a *Alpha) FailCount() int {
	if a.IS == nil {
		return 0
	}
	n := 0
	for _, c := range a.IS.Checks {
		if c.Result == "FAIL" {
			n++
		}
	}
	return n
}

// SearchScope narrows a data-field catalog query
type SearchScope struct {
	InstrumentType string
	Region         string
	Delay          int
	Universe       string
}

// DataField represents one entry of the data-field catalog
type DataField struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Dataset     struct {
		ID string `json:"id"`
	} `json:"dataset"`
	Category struct {
		ID string `json:"id"`
	} `json:"category"`
	Coverage  float64 `json:"coverage"`
	UserCount int     `json:"userCount"`
}

// dataFieldPage is one page of the paged catalog response
type dataFieldPage struct {
	Count   int         `json:"count"`
	Results []DataField `json:"results"`
}

// CorrelationCheck represents the SELF_CORRELATION verdict for an alpha
type CorrelationCheck struct {
	AlphaID string  `json:"alpha_id"`
	Result  string  `json:"result"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
}

// checkResponse is the body of /alphas/{id}/check
type checkResponse struct {
	IS struct {
		Checks []Check `json:"checks"`
	} `json:"is"`
}
