package devicecfg

import "strings"

type hardwareRule struct {
	match     string
	model     string
	osVersion string
}

// Rules are checked in order; more specific names come first.
var hardwareRules = []hardwareRule{
	{"ipad mini", "iPad mini (A17 Pro)", "iPadOS 18.1"},
	{"ipad", "iPad Pro (M4)", "iPadOS 18.1"},
	{"iphone17", "iPhone 17 Pro", "iOS 26.0"},
	{"iphone 17", "iPhone 17 Pro", "iOS 26.0"},
	{"iphone16", "iPhone 16", "iOS 18.1"},
	{"iphone 16", "iPhone 16", "iOS 18.1"},
	{"iphone15", "iPhone 15", "iOS 17.6"},
	{"iphone 15", "iPhone 15", "iOS 17.6"},
	{"iphone se", "iPhone SE (3rd gen)", "iOS 17.6"},
	{"mini", "iPhone 13 mini", "iOS 17.6"},
	{"iphone", "iPhone 16", "iOS 18.1"},
}

// DefaultInfer guesses model and OS from substrings of the device name.
func DefaultInfer(name string) (model, osVersion string) {
	lower := strings.ToLower(name)
	for _, r := range hardwareRules {
		if strings.Contains(lower, r.match) {
			return r.model, r.osVersion
		}
	}
	return "iOS Device", "iOS 18.0"
}
