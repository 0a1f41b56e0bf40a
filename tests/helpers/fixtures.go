package helpers

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/domuslabs/smart-home/assistant-core/internal/agent"
)

// TestUser represents a test user fixture
type TestUser struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	HouseholdID string `json:"household_id"`
}

// Default test fixtures
var (
	DefaultTestUser = TestUser{
		Email:       "test@example.com",
		Password:    "test-password-123",
		HouseholdID: "household-test-1",
	}

	// TestCaptureImage is a tiny valid JPEG header, enough for the ingestion
	// path which never inspects pixels.
	TestCaptureImage = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00, 0x01, 0xFF, 0xD9}
)

// TestCaptureImageBase64 returns the capture fixture encoded the way devices
// submit it.
func TestCaptureImageBase64() string {
	return base64.StdEncoding.EncodeToString(TestCaptureImage)
}

// FullFridgeAnalysis returns a vision result with staples present and nothing
// near expiry.
func FullFridgeAnalysis(now time.Time) agent.VisionAnalysis {
	return agent.VisionAnalysis{
		Confidence: 0.95,
		Items: []agent.DetectedItem{
			{Name: "milk", Category: agent.CategoryDairy, Quantity: 1, Confidence: 0.97, ExpiresAt: ptrTime(now.AddDate(0, 0, 6))},
			{Name: "eggs", Category: agent.CategoryDairy, Quantity: 12, Confidence: 0.94, ExpiresAt: ptrTime(now.AddDate(0, 0, 10))},
			{Name: "bread", Category: agent.CategoryOther, Quantity: 1, Confidence: 0.92, ExpiresAt: ptrTime(now.AddDate(0, 0, 5))},
			{Name: "butter", Category: agent.CategoryDairy, Quantity: 1, Confidence: 0.91, ExpiresAt: ptrTime(now.AddDate(0, 0, 30))},
			{Name: "cheese", Category: agent.CategoryDairy, Quantity: 1, Confidence: 0.93, ExpiresAt: ptrTime(now.AddDate(0, 0, 14))},
		},
	}
}

// MissingStaplesAnalysis returns a vision result that should trigger a
// procurement intent.
func MissingStaplesAnalysis(now time.Time) agent.VisionAnalysis {
	return agent.VisionAnalysis{
		Confidence: 0.9,
		Items: []agent.DetectedItem{
			{Name: "leftover pasta", Category: agent.CategoryLeftovers, Quantity: 1, Confidence: 0.88, ExpiresAt: ptrTime(now.AddDate(0, 0, 2))},
		},
	}
}

// CreateTestLoginRequest creates a login request payload
func CreateTestLoginRequest(email, password string) map[string]interface{} {
	return map[string]interface{}{
		"email":    email,
		"password": password,
	}
}

// CreateChatMessage builds a client chat frame for the session socket
func CreateChatMessage(content string) map[string]interface{} {
	return map[string]interface{}{
		"type":    "chat",
		"content": content,
	}
}

// CreateApprovalResultMessage builds a client approval answer frame
func CreateApprovalResultMessage(approvalID string, approved bool) map[string]interface{} {
	return map[string]interface{}{
		"type":        "approval_result",
		"approval_id": approvalID,
		"approved":    approved,
	}
}

// CreateStateTransitionMessage builds a client state transition frame
func CreateStateTransitionMessage(requested string) map[string]interface{} {
	return map[string]interface{}{
		"type":            "state_transition",
		"requested_state": requested,
	}
}

// ToJSON converts a fixture to JSON string
func ToJSON(fixture interface{}) string {
	data, _ := json.Marshal(fixture)
	return string(data)
}

// FromJSON parses JSON string to map
func FromJSON(jsonStr string) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal([]byte(jsonStr), &result)
	return result
}

func ptrTime(t time.Time) *time.Time { return &t }
