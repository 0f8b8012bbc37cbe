package handler

import (
	"time"

	"github.com/hitoshi/campusnest/internal/listing"
	"github.com/hitoshi/campusnest/internal/messaging"
	"github.com/hitoshi/campusnest/internal/model"
)

// ドメインモデルからAPIレスポンス型への変換。

type userSummaryResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func toUserSummaryResponses(users []model.UserSummary) []userSummaryResponse {
	out := make([]userSummaryResponse, len(users))
	for i, u := range users {
		out[i] = userSummaryResponse{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
	}
	return out
}

type participantResponse struct {
	userSummaryResponse
	Role string `json:"role"`
}

type conversationResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"conversation_type"`
	Title        *string                 `json:"title"`
	PropertyID   *string                 `json:"property_id"`
	CreatedBy    string                  `json:"created_by"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
	Participants []participantResponse   `json:"participants,omitempty"`
	LastMessage  *messaging.MessageEvent `json:"last_message,omitempty"`
}

func toConversationResponse(c *model.Conversation) conversationResponse {
	return conversationResponse{
		ID:         c.ID,
		Type:       string(c.Type),
		Title:      c.Title,
		PropertyID: c.PropertyID,
		CreatedBy:  c.CreatedBy,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func toConversationSummaryResponses(summaries []model.ConversationSummary) []conversationResponse {
	out := make([]conversationResponse, len(summaries))
	for i := range summaries {
		s := &summaries[i]
		resp := toConversationResponse(&s.Conversation)
		resp.Participants = make([]participantResponse, len(s.Participants))
		for j, p := range s.Participants {
			resp.Participants[j] = participantResponse{
				userSummaryResponse: userSummaryResponse{
					ID: p.ID, Username: p.Username, FirstName: p.FirstName, LastName: p.LastName,
				},
				Role: string(p.Role),
			}
		}
		if s.LastMessage != nil {
			ev := messaging.NewMessageEvent(s.LastMessage)
			resp.LastMessage = &ev
		}
		out[i] = resp
	}
	return out
}

func toMessageResponses(msgs []*model.Message) []messaging.MessageEvent {
	out := make([]messaging.MessageEvent, len(msgs))
	for i, m := range msgs {
		out[i] = messaging.NewMessageEvent(m)
	}
	return out
}

type propertyResponse struct {
	ID              string    `json:"id"`
	LandlordID      string    `json:"landlord_id"`
	Title           *string   `json:"title"`
	Description     *string   `json:"description"`
	PropertyType    *string   `json:"property_type"`
	Address         *string   `json:"address"`
	City            *string   `json:"city"`
	State           *string   `json:"state"`
	PostalCode      *string   `json:"postal_code"`
	Latitude        *float64  `json:"latitude"`
	Longitude       *float64  `json:"longitude"`
	Bedrooms        *int      `json:"bedrooms"`
	Bathrooms       *float64  `json:"bathrooms"`
	MonthlyRent     *float64  `json:"monthly_rent"`
	AvailableFrom   *string   `json:"available_from"`
	LeaseTermMonths *int      `json:"lease_term_months"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toPropertyResponse(p *model.Property) propertyResponse {
	resp := propertyResponse{
		ID:              p.ID,
		LandlordID:      p.LandlordID,
		Title:           p.Title,
		Description:     p.Description,
		PropertyType:    p.PropertyType,
		Address:         p.Address,
		City:            p.City,
		State:           p.State,
		PostalCode:      p.PostalCode,
		Latitude:        p.Latitude,
		Longitude:       p.Longitude,
		Bedrooms:        p.Bedrooms,
		Bathrooms:       p.Bathrooms,
		MonthlyRent:     p.MonthlyRent,
		LeaseTermMonths: p.LeaseTermMonths,
		Status:          string(p.Status),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.AvailableFrom != nil {
		d := p.AvailableFrom.Format("2006-01-02")
		resp.AvailableFrom = &d
	}
	return resp
}

type featureResponse struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Value    string `json:"value"`
}

type photoResponse struct {
	ID          string    `json:"id"`
	ObjectKey   string    `json:"object_key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

func toPhotoResponse(p *model.PropertyPhoto) photoResponse {
	return photoResponse{
		ID:          p.ID,
		ObjectKey:   p.ObjectKey,
		ContentType: p.ContentType,
		SizeBytes:   p.SizeBytes,
		CreatedAt:   p.CreatedAt,
	}
}

type propertyDetailResponse struct {
	propertyResponse
	Features []featureResponse `json:"features"`
	Photos   []photoResponse   `json:"photos"`
}

func toPropertyDetailResponse(d *listing.PropertyDetail) propertyDetailResponse {
	resp := propertyDetailResponse{
		propertyResponse: toPropertyResponse(d.Property),
		Features:         make([]featureResponse, len(d.Features)),
		Photos:           make([]photoResponse, len(d.Photos)),
	}
	for i, f := range d.Features {
		resp.Features[i] = featureResponse{Category: f.Category, Name: f.Name, Value: f.Value}
	}
	for i := range d.Photos {
		resp.Photos[i] = toPhotoResponse(&d.Photos[i])
	}
	return resp
}

type propertySummaryResponse struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	City        string   `json:"city"`
	Address     string   `json:"address"`
	MonthlyRent *float64 `json:"monthly_rent"`
	Status      string   `json:"status"`
}

func toPropertySummaryResponses(props []model.PropertySummary) []propertySummaryResponse {
	out := make([]propertySummaryResponse, len(props))
	for i, p := range props {
		out[i] = propertySummaryResponse{
			ID: p.ID, Title: p.Title, City: p.City, Address: p.Address,
			MonthlyRent: p.MonthlyRent, Status: string(p.Status),
		}
	}
	return out
}

type notificationResponse struct {
	ID         string     `json:"id"`
	ReceiverID *string    `json:"receiver_id"`
	Type       string     `json:"type"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Link       *string    `json:"link"`
	ReadAt     *time.Time `json:"read_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toNotificationResponses(ns []*model.Notification) []notificationResponse {
	out := make([]notificationResponse, len(ns))
	for i, n := range ns {
		out[i] = notificationResponse{
			ID: n.ID, ReceiverID: n.ReceiverID, Type: n.Type, Title: n.Title,
			Body: n.Body, Link: n.Link, ReadAt: n.ReadAt, CreatedAt: n.CreatedAt,
		}
	}
	return out
}
