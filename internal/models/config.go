package models

type BotProfile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Appearance  string `json:"appearance"`
	AvatarURL   string `json:"avatar_url"`
	Greeting    string `json:"greeting"`
}

type ChatSettings struct {
	UserName    string  `json:"user_name"`
	MaxHistory  int     `json:"max_history"`
	Temperature float64 `json:"temperature"`
}

type ImageSettings struct {
	Enabled        bool     `json:"enabled"`
	Style          string   `json:"style"`
	NegativePrompt string   `json:"negative_prompt"`
	EveryNMessages int      `json:"every_n_messages"` // 0 = only on trigger words
	TriggerWords   []string `json:"trigger_words"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
}

type ChatConfig struct {
	BotProfile    BotProfile    `json:"bot_profile"`
	ChatSettings  ChatSettings  `json:"chat_settings"`
	ImageSettings ImageSettings `json:"image_settings"`
}

type StylePreset struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

type TransformDefaults struct {
	Transform struct {
		Prompt         string  `json:"prompt"`
		NegativePrompt string  `json:"negative_prompt"`
		Strength       float64 `json:"strength"`
	} `json:"transform"`
	Animate struct {
		Prompt   string `json:"prompt"`
		Duration int    `json:"duration"`
	} `json:"animate"`
	Story struct {
		Prompt string `json:"prompt"`
		Scenes int    `json:"scenes"`
	} `json:"story"`
	Styles []StylePreset `json:"styles"`
}

// Style returns the preset with the given id.
func (d *TransformDefaults) Style(id string) (StylePreset, bool) {
	for _, s := range d.Styles {
		if s.ID == id {
			return s, true
		}
	}
	return StylePreset{}, false
}
