package dingtalk

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ruanjf/nocobase-plugins/internal/auth"
)

// Contact covers the directory endpoints.
type Contact struct {
	t *transport
}

type contactUser struct {
	Nick      string `json:"nick"`
	AvatarURL string `json:"avatarUrl"`
	Mobile    string `json:"mobile"`
	OpenID    string `json:"openId"`
	UnionID   string `json:"unionId"`
	Email     string `json:"email"`
	StateCode string `json:"stateCode"`
}

// GetUserByToken returns the profile of the user who owns userAccessToken.
func (c *Contact) GetUserByToken(ctx context.Context, userAccessToken string) (*auth.TokenUser, error) {
	return c.getUser(ctx, "me", userAccessToken)
}

// getUser looks up a user by union id, or "me" for the token owner.
func (c *Contact) getUser(ctx context.Context, unionID, userAccessToken string) (*auth.TokenUser, error) {
	if userAccessToken == "" {
		return nil, auth.InvalidRequest("user access token is empty")
	}

	var res contactUser
	err := c.t.doJSON(ctx, request{
		endpoint: "contact.users",
		method:   http.MethodGet,
		url:      c.t.apiBaseURL + "/v1.0/contact/users/" + url.PathEscape(unionID),
		headers:  map[string]string{"x-acs-dingtalk-access-token": userAccessToken},
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.UnionID == "" {
		return nil, auth.Upstream("contact.users returned no unionId", "", nil)
	}

	return &auth.TokenUser{
		UnionID: res.UnionID,
		OpenID:  res.OpenID,
		Nick:    res.Nick,
		Mobile:  res.Mobile,
		Email:   res.Email,
	}, nil
}

type userIDResult struct {
	// 0: internal member, 1: external contact
	ContactType int    `json:"contact_type"`
	UserID      string `json:"userid"`
}

// GetUserIDByUnionID resolves the org-scoped user id of a union id.
func (c *Contact) GetUserIDByUnionID(ctx context.Context, unionID string) (string, error) {
	res, err := doTop[userIDResult](ctx, c.t, "topapi.user.getbyunionid", "/topapi/user/getbyunionid",
		map[string]string{"unionid": unionID})
	if err != nil {
		return "", err
	}
	if res.UserID == "" {
		return "", auth.Upstream("topapi.user.getbyunionid returned no userid", "", nil)
	}
	return res.UserID, nil
}

// GetUserIDByMobile resolves the org-scoped user id of a mobile number.
func (c *Contact) GetUserIDByMobile(ctx context.Context, mobile string) (string, error) {
	res, err := doTop[userIDResult](ctx, c.t, "topapi.v2.user.getbymobile", "/topapi/v2/user/getbymobile",
		map[string]string{"mobile": mobile})
	if err != nil {
		return "", err
	}
	return res.UserID, nil
}

type userDetailResult struct {
	UserID   string `json:"userid"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	OrgEmail string `json:"org_email"`
}

// GetUserDetail fetches the directory record of an organisation member.
func (c *Contact) GetUserDetail(ctx context.Context, userID string) (*auth.UserDetail, error) {
	res, err := doTop[userDetailResult](ctx, c.t, "topapi.v2.user.get", "/topapi/v2/user/get",
		map[string]string{"userid": userID})
	if err != nil {
		return nil, err
	}
	return &auth.UserDetail{
		UserID:   res.UserID,
		Name:     res.Name,
		Email:    res.Email,
		OrgEmail: res.OrgEmail,
	}, nil
}
