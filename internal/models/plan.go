package models

// ScreenPlan is one entry of the ordered plan produced before generation
// begins. Order is semantically significant: screen i is generated with the
// finished HTML of screens 0..i-1 as context.
type ScreenPlan struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Purpose         string `json:"purpose"`
	VisualDirective string `json:"visualDirective"`
}
