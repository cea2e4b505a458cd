// Package coder is the offline code-generation agent. It picks a Python
// template from the first story.
package coder

import (
	"context"
	"errors"
	"strings"

	"sdlc-wizard/internal/domain"
)

const userCreationSource = `def create_user(email: str, password: str, name: str) -> dict:
    """Create a new user."""
    return {
        "email": email,
        "name": name,
        "created_at": "2024-03-20"  # Replace with actual timestamp
    }

if __name__ == "__main__":
    user = create_user("test@example.com", "password123", "Test User")
    print(f"Created user: {user}")
`

const factorialSource = `def factorial(n: int) -> int:
    """Calculate factorial of n."""
    if n < 0:
        raise ValueError("Factorial not defined for negative numbers")
    return 1 if n == 0 else n * factorial(n - 1)

if __name__ == "__main__":
    print(f"Factorial of 5: {factorial(5)}")
`

var ErrNoStories = errors.New("no stories found")

type TemplateCoder struct{}

func NewTemplateCoder() *TemplateCoder {
	return &TemplateCoder{}
}

func (c *TemplateCoder) Generate(ctx context.Context, stories []domain.Story) (string, string, error) {
	if len(stories) == 0 {
		return "", "", ErrNoStories
	}
	if strings.Contains(strings.ToLower(stories[0].Summary), "user creation") {
		return userCreationSource, "user_creation.py", nil
	}
	return factorialSource, "factorial.py", nil
}
