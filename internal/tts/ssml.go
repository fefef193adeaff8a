package tts

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// RatePercent maps a speed value to a prosody rate. The float chain is kept
// as is, so some values truncate one below speed*2.5 (72 gives "179%").
func RatePercent(speed int) string {
	return strconv.Itoa(int((float64(speed)/100.0)*2.5*100)) + "%"
}

// SSML wraps text in a speak/prosody envelope for the given speed.
func SSML(text string, speed int) string {
	var escaped strings.Builder
	_ = xml.EscapeText(&escaped, []byte(text))

	var b strings.Builder
	b.WriteString("<speak><prosody rate='")
	b.WriteString(RatePercent(speed))
	b.WriteString("'>")
	b.WriteString(escaped.String())
	b.WriteString("</prosody></speak>")
	return b.String()
}
