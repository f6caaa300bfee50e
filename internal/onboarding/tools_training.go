package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StaffScripts are the offer lines staff say in each scenario.
var StaffScripts = map[string]string{
	"checkin":  `"Would you like same-day injury insurance for just $5? It covers any injuries during your visit today."`,
	"checkout": `"Before you go - we offer affordable event insurance. Would you like coverage for your next visit?"`,
	"booking":  `"I see you're booking for [date]. Would you like to add $5 injury coverage for that day?"`,
	"phone":    `"We also offer same-day insurance. I can add it to your booking for just $5 - covers any injuries during your visit."`,
}

var scriptTips = []string{
	"Keep it brief and natural",
	"Mention the low price ($5)",
	"Explain what's covered simply",
	"Don't pressure - just offer",
}

func (t *Toolbox) registerTraining() {
	t.add(ToolGenerateTrainingMaterials,
		"Generate customized training materials for the partner",
		object(map[string]any{
			"partnerId":    str("The partner's ID"),
			"businessType": str("Type of business for customization"),
			"format":       enum("Format of training materials", "pdf", "video_links", "interactive"),
		}, "partnerId"),
		handler(t.generateTrainingMaterials))

	t.add(ToolGenerateStaffScripts,
		"Generate customized scripts for staff to offer insurance",
		object(map[string]any{
			"partnerId":    str("The partner's ID"),
			"businessType": str("Type of business for customization"),
			"scenarios":    strList("Specific scenarios to create scripts for: checkin, checkout, booking, phone"),
		}, "partnerId"),
		handler(t.generateStaffScripts))

	t.add(ToolDownloadMarketingKit,
		"Generate download links for marketing materials",
		object(map[string]any{
			"partnerId": str("The partner's ID"),
			"materials": strList("Materials to include: posters, flyers, social_media, email_templates"),
		}, "partnerId"),
		handler(t.downloadMarketingKit))

	t.add(ToolScheduleTrainingCall,
		"Schedule a live training session for the partner's staff",
		object(map[string]any{
			"partnerId":     str("The partner's ID"),
			"preferredTime": str("Preferred date/time for the session"),
			"attendees":     num("Number of staff attending"),
		}, "partnerId"),
		handler(t.scheduleTrainingCall))
}

type trainingArgs struct {
	PartnerID    string `json:"partnerId" validate:"max=64"`
	BusinessType string `json:"businessType" validate:"max=100"`
	Format       string `json:"format" validate:"omitempty,oneof=pdf video_links interactive"`
}

// Material is a downloadable resource.
type Material struct {
	Title    string `json:"title"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Duration string `json:"duration,omitempty"`
}

func (t *Toolbox) generateTrainingMaterials(_ context.Context, tc ToolContext, args trainingArgs) (ToolResult, error) {
	kind := strings.ToLower(cmpOr(args.BusinessType, cmpOr(tc.Collected.BusinessType, "general")))
	materials := []Material{
		{Title: "Partner Quick Start Guide", Type: "pdf", URL: SiteURL + "/resources/quickstart-" + kind + ".pdf"},
		{Title: "Staff Training Video", Type: "video", URL: SiteURL + "/training/video/staff-intro", Duration: "5 minutes"},
		{Title: "FAQ Reference Card", Type: "pdf", URL: SiteURL + "/resources/faq-card.pdf"},
	}
	switch args.Format {
	case "pdf":
		materials = filterMaterials(materials, "pdf")
	case "video_links":
		materials = filterMaterials(materials, "video")
	case "interactive":
		materials = append(materials, Material{Title: "Interactive Staff Walkthrough", Type: "interactive", URL: SiteURL + "/training/interactive"})
	}
	return done(map[string]any{
		"partnerId":    partnerIDFor(tc, args.PartnerID),
		"businessType": kind,
		"materials":    materials,
		"message":      "Your training materials are ready! Share these with your staff before going live.",
	})
}

func filterMaterials(in []Material, kind string) []Material {
	var out []Material
	for _, m := range in {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}

type staffScriptArgs struct {
	PartnerID    string   `json:"partnerId" validate:"max=64"`
	BusinessType string   `json:"businessType" validate:"max=100"`
	Scenarios    []string `json:"scenarios" validate:"omitempty,dive,max=50"`
}

// Script is one scenario's offer line.
type Script struct {
	Scenario string `json:"scenario"`
	Script   string `json:"script"`
}

// ScriptsFor returns a script per scenario. Unknown scenarios get the
// check-in script; none defaults to check-in and check-out.
func ScriptsFor(scenarios []string) []Script {
	if len(scenarios) == 0 {
		scenarios = []string{"checkin", "checkout"}
	}
	out := make([]Script, 0, len(scenarios))
	for _, s := range scenarios {
		line, ok := StaffScripts[s]
		if !ok {
			line = StaffScripts["checkin"]
		}
		out = append(out, Script{Scenario: s, Script: line})
	}
	return out
}

func (t *Toolbox) generateStaffScripts(_ context.Context, tc ToolContext, args staffScriptArgs) (ToolResult, error) {
	return done(map[string]any{
		"businessType": cmpOr(args.BusinessType, cmpOr(tc.Collected.BusinessType, "general")),
		"scripts":      ScriptsFor(args.Scenarios),
		"tips":         scriptTips,
	})
}

type marketingKitArgs struct {
	PartnerID string   `json:"partnerId" validate:"max=64"`
	Materials []string `json:"materials" validate:"omitempty,dive,max=50"`
}

type kitFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type kitSection struct {
	Name  string    `json:"name"`
	Files []kitFile `json:"files"`
}

// marketingKit lists the asset sections for a partner.
func marketingKit(partnerID string) map[string]kitSection {
	base := SiteURL + "/assets/" + partnerID + "/"
	return map[string]kitSection{
		"posters": {Name: "QR Code Posters", Files: []kitFile{
			{Name: "8.5x11 Poster", URL: base + "poster-letter.pdf"},
			{Name: "11x17 Poster", URL: base + "poster-tabloid.pdf"},
		}},
		"flyers": {Name: "Customer Flyers", Files: []kitFile{
			{Name: "Info Flyer", URL: base + "flyer.pdf"},
		}},
		"social_media": {Name: "Social Media Graphics", Files: []kitFile{
			{Name: "Instagram Post", URL: base + "social-ig.png"},
			{Name: "Facebook Post", URL: base + "social-fb.png"},
		}},
		"email_templates": {Name: "Email Templates", Files: []kitFile{
			{Name: "Customer Announcement", URL: base + "email-announce.html"},
		}},
	}
}

func (t *Toolbox) downloadMarketingKit(_ context.Context, tc ToolContext, args marketingKitArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	if pid == "" {
		return ToolResult{}, errors.New("partnerId is required")
	}
	requested := args.Materials
	if len(requested) == 0 {
		requested = []string{"posters", "flyers"}
	}
	kit := marketingKit(pid)
	selected := make([]kitSection, 0, len(requested))
	for _, m := range requested {
		if s, ok := kit[m]; ok {
			selected = append(selected, s)
		}
	}
	return done(map[string]any{
		"partnerId": pid,
		"materials": selected,
		"allKitUrl": SiteURL + "/assets/" + pid + "/marketing-kit.zip",
	})
}

type trainingCallArgs struct {
	PartnerID     string `json:"partnerId" validate:"max=64"`
	PreferredTime string `json:"preferredTime" validate:"max=100"`
	Attendees     int    `json:"attendees" validate:"gte=0,lte=500"`
}

func (t *Toolbox) scheduleTrainingCall(_ context.Context, tc ToolContext, args trainingCallArgs) (ToolResult, error) {
	when := args.PreferredTime
	if when == "" {
		when = t.now().Add(48 * time.Hour).Format("Monday, January 2")
	}
	return done(map[string]any{
		"partnerId":    partnerIDFor(tc, args.PartnerID),
		"scheduledFor": when,
		"attendees":    args.Attendees,
		"duration":     "30 minutes",
		"message":      fmt.Sprintf("Your staff training call is booked for %s. A calendar invite will follow by email.", when),
	})
}
