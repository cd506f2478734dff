package clicks

import "strings"

var botAgentMarkers = []string{
	"bot",
	"crawler",
	"spider",
	"slurp",
	"facebookexternalhit",
	"facebookcatalog",
	"meta-externalagent",
	"twitterbot",
	"slackbot",
	"discordbot",
	"telegrambot",
	"whatsapp",
	"kakaotalk-scrap",
	"yeti",
	"daumoa",
	"headlesschrome",
	"lighthouse",
	"python-requests",
	"go-http-client",
	"curl/",
	"wget/",
	"preview",
}

// botDetector matches user agents against the built-in crawler table plus configured extras.
type botDetector struct {
	markers []string
}

func newBotDetector(extra []string) botDetector {
	markers := make([]string, 0, len(botAgentMarkers)+len(extra))
	markers = append(markers, botAgentMarkers...)
	for _, marker := range extra {
		if m := strings.ToLower(strings.TrimSpace(marker)); m != "" {
			markers = append(markers, m)
		}
	}
	return botDetector{markers: markers}
}

// IsBot treats an empty user agent as automated.
func (d botDetector) IsBot(userAgent string) bool {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return true
	}
	for _, marker := range d.markers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
