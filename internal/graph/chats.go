// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bcem/chatdm/internal/models"
)

// conversationMember is an aadUserConversationMember bound to a user.
type conversationMember struct {
	ODataType string   `json:"@odata.type"`
	Roles     []string `json:"roles"`
	UserBind  string   `json:"user@odata.bind"`
}

type createChatRequest struct {
	ChatType string               `json:"chatType"`
	Members  []conversationMember `json:"members"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type sendMessageRequest struct {
	Body itemBody `json:"body"`
}

// CreateOneOnOneChat creates (or returns the existing) one-on-one chat
// between the sender and the recipient. Both members are owners.
func (c *Client) CreateOneOnOneChat(ctx context.Context, token, senderID, recipientID string) (*models.Conversation, error) {
	req := createChatRequest{
		ChatType: "oneOnOne",
		Members: []conversationMember{
			c.member(senderID),
			c.member(recipientID),
		},
	}

	var chat models.Conversation
	if err := c.Do(ctx, http.MethodPost, "/chats", token, req, &chat); err != nil {
		return nil, fmt.Errorf("create chat with %s: %w", recipientID, err)
	}
	if chat.ID == "" {
		return nil, fmt.Errorf("create chat with %s: response has no chat id", recipientID)
	}
	return &chat, nil
}

// SendChatMessage posts an HTML message into a chat.
func (c *Client) SendChatMessage(ctx context.Context, token, chatID, html string) (*models.SentMessage, error) {
	req := sendMessageRequest{
		Body: itemBody{ContentType: "html", Content: html},
	}

	var msg models.SentMessage
	path := fmt.Sprintf("/chats/%s/messages", url.PathEscape(chatID))
	if err := c.Do(ctx, http.MethodPost, path, token, req, &msg); err != nil {
		return nil, fmt.Errorf("send message to chat %s: %w", chatID, err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("send message to chat %s: response has no message id", chatID)
	}
	return &msg, nil
}

func (c *Client) member(userID string) conversationMember {
	return conversationMember{
		ODataType: "#microsoft.graph.aadUserConversationMember",
		Roles:     []string{"owner"},
		UserBind:  fmt.Sprintf("%s/users('%s')", c.baseURL, userID),
	}
}
