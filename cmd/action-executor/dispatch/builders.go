package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pulsemate/action-engine/cmd/action-executor/httpcall"
	"github.com/pulsemate/action-engine/cmd/action-executor/platforms"
	"github.com/pulsemate/action-engine/cmd/action-executor/shared"
)

// Request builders for the platform actions. These are thin: the interesting
// work (rate limiting, classification, outcome resolution) happens around
// them, and the exact payload surfaces belong to the upstream vendors.

func bearerAuth(action *shared.Action) map[string]string {
	token := action.PayloadString("accessToken")
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func requireField(action *shared.Action, field string) (string, error) {
	v := action.PayloadString(field)
	if v == "" {
		return "", shared.WrapInputValidation(fmt.Errorf("%s action is missing %s", action.Type, field))
	}
	return v, nil
}

func tweetBuilder(action *shared.Action) (httpcall.Request, error) {
	text, err := requireField(action, "text")
	if err != nil {
		return httpcall.Request{}, err
	}
	return httpcall.Request{
		Method:  "POST",
		URL:     "https://api.twitter.com/2/tweets",
		Headers: bearerAuth(action),
		Body:    map[string]any{"text": text},
	}, nil
}

func twitterDMBuilder(action *shared.Action) (httpcall.Request, error) {
	recipient, err := requireField(action, "recipientId")
	if err != nil {
		return httpcall.Request{}, err
	}
	text, err := requireField(action, "text")
	if err != nil {
		return httpcall.Request{}, err
	}
	return httpcall.Request{
		Method:  "POST",
		URL:     fmt.Sprintf("https://api.twitter.com/2/dm_conversations/with/%s/messages", url.PathEscape(recipient)),
		Headers: bearerAuth(action),
		Body:    map[string]any{"text": text},
	}, nil
}

func twitterRetweetBuilder(action *shared.Action) (httpcall.Request, error) {
	tweetID, err := requireField(action, "tweetId")
	if err != nil {
		return httpcall.Request{}, err
	}
	return httpcall.Request{
		Method:  "POST",
		URL:     fmt.Sprintf("https://api.twitter.com/2/users/%s/retweets", url.PathEscape(action.Subject)),
		Headers: bearerAuth(action),
		Body:    map[string]any{"tweet_id": tweetID},
	}, nil
}

func twitterFavoriteBuilder(action *shared.Action) (httpcall.Request, error) {
	tweetID, err := requireField(action, "tweetId")
	if err != nil {
		return httpcall.Request{}, err
	}
	return httpcall.Request{
		Method:  "POST",
		URL:     fmt.Sprintf("https://api.twitter.com/2/users/%s/likes", url.PathEscape(action.Subject)),
		Headers: bearerAuth(action),
		Body:    map[string]any{"tweet_id": tweetID},
	}, nil
}

func facebookPostBuilder(action *shared.Action) (httpcall.Request, error) {
	pageID, err := requireField(action, "pageId")
	if err != nil {
		return httpcall.Request{}, err
	}
	message, err := requireField(action, "message")
	if err != nil {
		return httpcall.Request{}, err
	}
	return httpcall.Request{
		Method: "POST",
		URL:    fmt.Sprintf("https://graph.facebook.com/v18.0/%s/feed", url.PathEscape(pageID)),
		Form: map[string]string{
			"message":      message,
			"access_token": action.PayloadString("accessToken"),
		},
	}, nil
}

func facebookCommentBuilder(action *shared.Action) (httpcall.Request, error) {
	objectID, err := requireField(action, "objectId")
	if err != nil {
		return httpcall.Request{}, err
	}
	message, err := requireField(action, "message")
	if err != nil {
		return httpcall.Request{}, err
	}
	return httpcall.Request{
		Method: "POST",
		URL:    fmt.Sprintf("https://graph.facebook.com/v18.0/%s/comments", url.PathEscape(objectID)),
		Form: map[string]string{
			"message":      message,
			"access_token": action.PayloadString("accessToken"),
		},
	}, nil
}

func instagramPostBuilder(action *shared.Action) (httpcall.Request, error) {
	accountID, err := requireField(action, "accountId")
	if err != nil {
		return httpcall.Request{}, err
	}
	imageURL, err := requireField(action, "imageUrl")
	if err != nil {
		return httpcall.Request{}, err
	}
	return httpcall.Request{
		Method: "POST",
		URL:    fmt.Sprintf("https://graph.facebook.com/v18.0/%s/media", url.PathEscape(accountID)),
		Form: map[string]string{
			"image_url":    imageURL,
			"caption":      action.PayloadString("caption"),
			"access_token": action.PayloadString("accessToken"),
		},
	}, nil
}

func linkedinPostBuilder(action *shared.Action) (httpcall.Request, error) {
	text, err := requireField(action, "text")
	if err != nil {
		return httpcall.Request{}, err
	}
	return httpcall.Request{
		Method:  "POST",
		URL:     "https://api.linkedin.com/v2/ugcPosts",
		Headers: bearerAuth(action),
		Body: map[string]any{
			"author":         "urn:li:person:" + action.Subject,
			"lifecycleState": "PUBLISHED",
			"specificContent": map[string]any{
				"com.linkedin.ugc.ShareContent": map[string]any{
					"shareCommentary":    map[string]any{"text": text},
					"shareMediaCategory": "NONE",
				},
			},
			"visibility": map[string]any{
				"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
			},
		},
	}, nil
}

func emailSendBuilder(action *shared.Action) (httpcall.Request, error) {
	rawMessage, err := requireField(action, "raw")
	if err != nil {
		return httpcall.Request{}, err
	}
	return httpcall.Request{
		Method:  "POST",
		URL:     "https://gmail.googleapis.com/gmail/v1/users/me/messages/send",
		Headers: bearerAuth(action),
		Body:    map[string]any{"raw": rawMessage},
	}, nil
}

// buildHTTPCallRequest maps the generic HTTP_CALL payload onto a request.
// The payload IS the request; every field is validated here since it arrives
// untyped.
func buildHTTPCallRequest(action *shared.Action) (httpcall.Request, error) {
	method, err := requireField(action, "method")
	if err != nil {
		return httpcall.Request{}, err
	}
	target, err := requireField(action, "url")
	if err != nil {
		return httpcall.Request{}, err
	}

	req := httpcall.Request{
		Method:         method,
		URL:            target,
		RetryRemaining: action.RetryRemaining,
	}
	if v, ok := action.Payload["headers"]; ok {
		req.Headers, err = stringMap(v, "headers")
		if err != nil {
			return httpcall.Request{}, err
		}
	}
	if v, ok := action.Payload["query"]; ok {
		req.Query, err = stringMap(v, "query")
		if err != nil {
			return httpcall.Request{}, err
		}
	}
	if v, ok := action.Payload["form"]; ok {
		req.Form, err = stringMap(v, "form")
		if err != nil {
			return httpcall.Request{}, err
		}
	}
	if v, ok := action.Payload["body"]; ok {
		req.Body = v
	}
	if v, ok := action.Payload["auth"]; ok {
		creds, credsErr := stringMap(v, "auth")
		if credsErr != nil {
			return httpcall.Request{}, credsErr
		}
		req.Auth = &httpcall.BasicAuth{Username: creds["user"], Password: creds["pass"]}
	}
	if v, ok := action.Payload["timeout"]; ok {
		ms, numOK := numeric(v)
		if !numOK {
			return httpcall.Request{}, shared.WrapInputValidation(fmt.Errorf("timeout must be numeric, got %T", v))
		}
		req.Timeout = time.Duration(ms) * time.Millisecond
	}
	if v, ok := action.Payload["retryStatuses"]; ok {
		items, listOK := v.([]any)
		if !listOK {
			return httpcall.Request{}, shared.WrapInputValidation(fmt.Errorf("retryStatuses must be an array, got %T", v))
		}
		for _, item := range items {
			status, numOK := numeric(item)
			if !numOK {
				return httpcall.Request{}, shared.WrapInputValidation(fmt.Errorf("retryStatuses entry must be numeric, got %T", item))
			}
			req.RetryStatuses = append(req.RetryStatuses, int(status))
		}
	}
	return req, nil
}

func stringMap(v any, field string) (map[string]string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, shared.WrapInputValidation(fmt.Errorf("%s must be an object, got %T", field, v))
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		s, ok := val.(string)
		if !ok {
			return nil, shared.WrapInputValidation(fmt.Errorf("%s.%s must be a string, got %T", field, k, val))
		}
		out[k] = s
	}
	return out, nil
}

func numeric(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	default:
		return 0, false
	}
}

// New wires the full type registry and returns the dispatcher. Tests swap
// individual handlers through the registry.
func New(oracle Oracle, call Caller, reg *Registry,
	twitter, facebook, linkedin, google platforms.Translator) *Dispatcher {

	d := NewDispatcher(reg)

	reg.Register(shared.TypeTweet,
		NewPlatformHandler(oracle, call, twitter, tweetBuilder, platforms.PlatformTwitter, "POST", "tweets"))
	reg.Register(shared.TypeTwitterDM,
		NewPlatformHandler(oracle, call, twitter, twitterDMBuilder, platforms.PlatformTwitter, "POST", "dm"))
	reg.Register(shared.TypeTwitterRetweet,
		NewPlatformHandler(oracle, call, twitter, twitterRetweetBuilder, platforms.PlatformTwitter, "POST", "retweets"))
	reg.Register(shared.TypeTwitterFavorite,
		NewPlatformHandler(oracle, call, twitter, twitterFavoriteBuilder, platforms.PlatformTwitter, "POST", "likes"))
	reg.Register(shared.TypeFacebookPost,
		NewPlatformHandler(oracle, call, facebook, facebookPostBuilder, platforms.PlatformFacebook, "POST", "feed"))
	reg.Register(shared.TypeFacebookComment,
		NewPlatformHandler(oracle, call, facebook, facebookCommentBuilder, platforms.PlatformFacebook, "POST", "comments"))
	reg.Register(shared.TypeInstagramPost,
		NewPlatformHandler(oracle, call, facebook, instagramPostBuilder, platforms.PlatformFacebook, "POST", "media"))
	reg.Register(shared.TypeLinkedinPost,
		NewPlatformHandler(oracle, call, linkedin, linkedinPostBuilder, platforms.PlatformLinkedin, "POST", "ugcPosts"))
	reg.Register(shared.TypeEmailSend,
		NewPlatformHandler(oracle, call, google, emailSendBuilder, platforms.PlatformGoogle, "POST", "gmail.send"))

	reg.Register(shared.TypeHTTPCall, HandlerFunc(func(ctx context.Context, action *shared.Action) (shared.UniformResult, error) {
		req, err := buildHTTPCallRequest(action)
		if err != nil {
			return shared.UniformResult{}, err
		}
		return call.Do(ctx, req)
	}))

	reg.Register(shared.TypeSequence, NewSequenceHandler(d))

	return d
}
