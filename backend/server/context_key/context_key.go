package contextKey

type key string

// UserIDKey holds the primitive.ObjectID of the authenticated user.
const UserIDKey key = "userID"

// JwtErrorKey holds the error returned while validating the bearer token.
const JwtErrorKey key = "jwtError"
