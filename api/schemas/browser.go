package schemas

// BrowserAction names one of the operations a browser session can perform.
type BrowserAction string

const (
	ActionNavigate BrowserAction = "navigate"
	ActionClick    BrowserAction = "click"
	ActionType     BrowserAction = "type"
	ActionSelect   BrowserAction = "select"
	ActionExtract  BrowserAction = "extract"
	ActionWait     BrowserAction = "wait"
	ActionBack     BrowserAction = "back"
	ActionScroll   BrowserAction = "scroll"
)

// BrowserActionRequest is the input payload of the browser tool. Which fields
// are required depends on Action; the session validates before executing.
type BrowserActionRequest struct {
	Action BrowserAction `json:"action"`

	// URL is required for navigate.
	URL string `json:"url,omitempty"`

	// Selector addresses the target element for click, type, and select.
	Selector string `json:"selector,omitempty"`

	// Text is the input for type. For click without a selector it is matched
	// against the visible text of clickable elements.
	Text string `json:"text,omitempty"`

	// Value is the option value for select.
	Value string `json:"value,omitempty"`

	// Milliseconds is the pause for wait. Capped at 5000.
	Milliseconds int `json:"milliseconds,omitempty"`

	// Direction is "up" or "down" for scroll. Defaults to down.
	Direction string `json:"direction,omitempty"`
}

// Target returns the value that identifies what the action touched, for
// audit purposes.
func (r BrowserActionRequest) Target() string {
	switch r.Action {
	case ActionNavigate:
		return r.URL
	case ActionClick:
		if r.Selector != "" {
			return r.Selector
		}
		return r.Text
	case ActionType, ActionSelect:
		return r.Selector
	default:
		return ""
	}
}

// FormField describes one input element on the current page.
type FormField struct {
	Selector string `json:"selector"`
	Type     string `json:"type"`
	Label    string `json:"label,omitempty"`
	Value    string `json:"value,omitempty"`
}

// Clickable describes one interactive element (link or button) on the page.
type Clickable struct {
	Tag      string `json:"tag"`
	Selector string `json:"selector"`
	Text     string `json:"text,omitempty"`
	Href     string `json:"href,omitempty"`
}

// PageState is the observable snapshot of the page after an action completes.
// It is what the model sees instead of raw HTML.
type PageState struct {
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	VisibleText string      `json:"visible_text"`
	FormFields  []FormField `json:"form_fields,omitempty"`
	Clickables  []Clickable `json:"clickables,omitempty"`
}
